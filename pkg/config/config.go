// Package config describes the cluster a client talks to: its load
// balanced endpoint, its individual nodes and the users to connect as.
//
// Values come from built in defaults, then an optional YAML file, then
// TESTY_* environment variables.
package config

import (
	"net"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

type Interface string

const (
	Public  Interface = "public"
	Private Interface = "private"
)

type Role string

const (
	Admin Role = "admin"
	Write Role = "write"
	Read  Role = "read"
)

type Node struct {
	Name    string `yaml:"name"`
	Public  string `yaml:"public,omitempty"`
	Private string `yaml:"private,omitempty"`
}

type User struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

type Config struct {
	Protocol      string `yaml:"protocol"`
	ClusterNetloc string `yaml:"cluster_netloc"`
	Nodes         []Node `yaml:"nodes"`

	Admin *User `yaml:"admin,omitempty"`
	Write *User `yaml:"write,omitempty"`
	Read  *User `yaml:"read,omitempty"`

	DBURL     string `yaml:"db_url,omitempty"`
	DBName    string `yaml:"db_name,omitempty"`
	ResultDir string `yaml:"result_dir,omitempty"`
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Default returns the configuration of a three node development
// cluster on localhost.
func Default() *Config {
	return defaults(os.LookupEnv)
}

func defaults(lookup LookupFunc) *Config {
	port := "5984"
	if p, ok := lookup("HAPROXY_PORT"); ok && p != "" {
		port = p
	}
	return &Config{
		Protocol:      "http",
		ClusterNetloc: net.JoinHostPort("127.0.0.1", port),
		Nodes: []Node{
			{Name: "node1@127.0.0.1", Public: "127.0.0.1:15984", Private: "127.0.0.1:15986"},
			{Name: "node2@127.0.0.1", Public: "127.0.0.1:25984", Private: "127.0.0.1:25986"},
			{Name: "node3@127.0.0.1", Public: "127.0.0.1:35984", Private: "127.0.0.1:35986"},
		},
		Admin: &User{Name: "adm", Password: "pass"},
	}
}

// Load reads the configuration from path, if given, and the process
// environment.
func Load(path string) (*Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup.
func LoadWith(path string, lookup LookupFunc) (*Config, error) {
	cfg := defaults(lookup)

	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading config")
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("TESTY_PROTOCOL", &c.Protocol)
	str("TESTY_CLUSTER_NETLOC", &c.ClusterNetloc)
	str("TESTY_DB_URL", &c.DBURL)
	str("TESTY_DB_NAME", &c.DBName)
	str("TESTY_RESULT_DIR", &c.ResultDir)

	user := func(prefix string, dst **User) {
		name, ok := lookup(prefix + "_USER")
		if !ok {
			return
		}
		pass, _ := lookup(prefix + "_PASS")
		*dst = &User{Name: name, Password: pass}
	}
	user("TESTY_DB_ADMIN", &c.Admin)
	user("TESTY_DB_WRITE", &c.Write)
	user("TESTY_DB_READ", &c.Read)

	names, namesSet := lookup("TESTY_NODE_NAMES")
	public, publicSet := lookup("TESTY_NODE_PUBLIC_INTERFACES")
	private, privateSet := lookup("TESTY_NODE_PRIVATE_INTERFACES")
	if !namesSet && !publicSet && !privateSet {
		return nil
	}

	nodeNames := c.NodeNames()
	if namesSet {
		nodeNames = split(names)
	}
	nodes := make([]Node, len(nodeNames))
	for i, name := range nodeNames {
		nodes[i].Name = name
	}

	assign := func(list string, set bool, iface Interface) error {
		var addrs []string
		if set {
			addrs = split(list)
		} else {
			for _, n := range c.Nodes {
				addrs = append(addrs, n.address(iface))
			}
		}
		if len(addrs) != len(nodes) {
			return errors.Newf("mismatched %s interfaces: %d nodes, %d addresses", iface, len(nodes), len(addrs))
		}
		for i, addr := range addrs {
			nodes[i].setAddress(iface, addr)
		}
		return nil
	}
	if err := assign(public, publicSet, Public); err != nil {
		return err
	}
	if err := assign(private, privateSet, Private); err != nil {
		return err
	}
	c.Nodes = nodes
	return nil
}

func split(list string) []string {
	var out []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (n Node) address(iface Interface) string {
	if iface == Public {
		return n.Public
	}
	return n.Private
}

func (n *Node) setAddress(iface Interface, addr string) {
	if iface == Public {
		n.Public = addr
	} else {
		n.Private = addr
	}
}

func (c *Config) Validate() error {
	if c.Protocol != "http" && c.Protocol != "https" {
		return errors.Newf("unsupported protocol %q", c.Protocol)
	}
	if c.ClusterNetloc == "" {
		return errors.New("cluster netloc is empty")
	}
	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.Name == "" {
			return errors.New("node with empty name")
		}
		if seen[n.Name] {
			return errors.Newf("duplicate node %q", n.Name)
		}
		seen[n.Name] = true
	}
	return nil
}

// ClusterURL is the load balanced URL of the whole cluster.
func (c *Config) ClusterURL() string {
	return c.Protocol + "://" + c.ClusterNetloc
}

func (c *Config) NodeNames() []string {
	names := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		names[i] = n.Name
	}
	return names
}

// NodeURL is the URL of a single node on the given interface.
func (c *Config) NodeURL(name string, iface Interface) (string, error) {
	for _, n := range c.Nodes {
		if n.Name != name {
			continue
		}
		addr := n.address(iface)
		if addr == "" {
			return "", errors.Newf("node %q has no %s interface", name, iface)
		}
		return c.Protocol + "://" + addr, nil
	}
	return "", errors.Newf("unknown node %q", name)
}

// User returns the credentials configured for role, or nil when the
// role should connect anonymously.
func (c *Config) User(role Role) (*User, error) {
	switch role {
	case Admin:
		return c.Admin, nil
	case Write:
		return c.Write, nil
	case Read:
		return c.Read, nil
	}
	return nil, errors.Newf("no user info for %q", role)
}
