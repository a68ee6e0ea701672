package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/cloudant/quimby/pkg/client"
	"github.com/cloudant/quimby/pkg/feed"
	"github.com/cloudant/quimby/pkg/util"
	"github.com/cloudant/quimby/types"
)

type Option func(s *Server)

func WithLogger(log logr.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// Server wraps the server level endpoints of a cluster or node.
type Server struct {
	kc  client.Interface
	log logr.Logger
}

func NewServer(kc client.Interface, opt ...Option) *Server {
	s := &Server{
		kc:  kc,
		log: klog.Background().WithName("couch"),
	}
	for _, o := range opt {
		o(s)
	}
	return s
}

func (s *Server) Client() client.Interface {
	return s.kc
}

func (s *Server) getJSON(ctx context.Context, out any, path ...string) error {
	return client.DoJSON(ctx, s.kc, client.ResourceRequest{Path: path}, out)
}

func (s *Server) Welcome(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	return out, s.getJSON(ctx, &out)
}

func (s *Server) AllDBs(ctx context.Context) ([]string, error) {
	var out []string
	return out, s.getJSON(ctx, &out, "_all_dbs")
}

func (s *Server) ActiveTasks(ctx context.Context) ([]types.ActiveTask, error) {
	var out []types.ActiveTask
	return out, s.getJSON(ctx, &out, "_active_tasks")
}

func (s *Server) DB(name string) *Database {
	return &Database{srv: s, name: name}
}

// GlobalChanges opens the _db_updates feed.
func (s *Server) GlobalChanges(ctx context.Context, opts ChangesOptions) (*feed.Cursor, error) {
	return openFeed(ctx, s.kc, s.log, []string{"_db_updates"}, opts)
}

func persistHeader(persist bool) http.Header {
	return http.Header{"X-Couch-Persist": {strconv.FormatBool(persist)}}
}

// ConfigGet reads the whole configuration, a section, or a single key.
func (s *Server) ConfigGet(ctx context.Context, section, key string) (any, error) {
	if section == "" && key != "" {
		return nil, errors.New("unable to get key without a section")
	}
	path := []string{"_config"}
	if section != "" {
		path = append(path, client.Quote(section))
	}
	if key != "" {
		path = append(path, client.Quote(key))
	}
	var out any
	return out, s.getJSON(ctx, &out, path...)
}

// ConfigSet sets a configuration value and returns the previous one.
func (s *Server) ConfigSet(ctx context.Context, section, key string, value any, persist bool) (any, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "encoding config value")
	}
	var old any
	return old, client.DoJSON(ctx, s.kc, client.ResourceRequest{
		Verb:   http.MethodPut,
		Path:   []string{"_config", client.Quote(section), client.Quote(key)},
		Header: persistHeader(persist),
		Body:   bytes.NewReader(b),
	}, &old)
}

// ConfigDelete removes a configuration value and returns the previous
// one.
func (s *Server) ConfigDelete(ctx context.Context, section, key string, persist bool) (any, error) {
	var old any
	return old, client.DoJSON(ctx, s.kc, client.ResourceRequest{
		Verb:   http.MethodDelete,
		Path:   []string{"_config", client.Quote(section), client.Quote(key)},
		Header: persistHeader(persist),
	}, &old)
}

const userPrefix = "org.couchdb.user:"

// UserCreate adds a user document to the _users database, creating the
// database if needed.
func (s *Server) UserCreate(ctx context.Context, name, password string, roles ...string) error {
	users := s.DB("_users")
	exists, err := users.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		if err := users.Create(ctx, nil); err != nil {
			return err
		}
	}
	if roles == nil {
		roles = []string{}
	}
	_, err = users.DocSave(ctx, types.Doc{
		"_id":      userPrefix + name,
		"name":     name,
		"type":     "user",
		"roles":    roles,
		"password": password,
	}, nil)
	return err
}

func (s *Server) UserExists(ctx context.Context, name string) (bool, error) {
	return s.DB("_users").DocExists(ctx, userPrefix+name)
}

// IndexerWait bounds WaitForIndexers.
type IndexerWait struct {
	// MinDelay is waited before the first check, so that freshly
	// triggered indexers have time to show up.
	MinDelay time.Duration
	Interval time.Duration
	Timeout  time.Duration
}

var DefaultIndexerWait = IndexerWait{
	MinDelay: 500 * time.Millisecond,
	Interval: time.Second,
	Timeout:  30 * time.Second,
}

// WaitForIndexers blocks until no indexer task is active for dbname and,
// if given, the design document ddoc.
func (s *Server) WaitForIndexers(ctx context.Context, dbname, ddoc string, w IndexerWait) error {
	if ddoc != "" {
		ddoc = util.DesignDocID(ddoc)
	}
	match := func(t types.ActiveTask) bool {
		if t["type"] != "indexer" {
			return false
		}
		database, _ := t["database"].(string)
		if util.ParseShardName(database) != dbname {
			return false
		}
		return ddoc == "" || t["design_document"] == ddoc
	}

	if w.MinDelay > 0 {
		select {
		case <-time.After(w.MinDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := wait.PollUntilContextTimeout(ctx, w.Interval, w.Timeout, true, func(ctx context.Context) (bool, error) {
		tasks, err := s.ActiveTasks(ctx)
		if err != nil {
			return false, err
		}
		for _, t := range tasks {
			if match(t) {
				s.log.V(2).Info("indexer running", "db", dbname, "ddoc", t["design_document"])
				return false, nil
			}
		}
		return true, nil
	})
	if wait.Interrupted(err) {
		return errors.Wrapf(err, "timeout waiting for indexer tasks on %s", dbname)
	}
	return err
}
