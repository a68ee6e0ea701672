package main

import (
	"flag"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/cloudant/quimby/pkg/auth"
	"github.com/cloudant/quimby/pkg/client"
	"github.com/cloudant/quimby/pkg/config"
	"github.com/cloudant/quimby/pkg/couch"
)

type globalFlags struct {
	configPath      string
	node            string
	iface           string
	role            string
	credentialsFile string
	color           string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "quimby",
		Short:         "Read changes feeds and views of a cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "YAML cluster configuration; TESTY_* variables override it")
	pf.StringVar(&g.node, "node", "", "talk to a single node instead of the cluster address")
	pf.StringVar(&g.iface, "interface", string(config.Public), "node interface, public or private")
	pf.StringVar(&g.role, "role", string(config.Admin), "user to authenticate as: admin, write or read")
	pf.StringVar(&g.credentialsFile, "credentials-file", "", "user:password file, re-read when it changes")
	pf.StringVar(&g.color, "color", "auto", "colorize output: auto, always or never")

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	pf.AddGoFlagSet(klogFlags)

	root.AddCommand(
		newChangesCmd(g),
		newDBUpdatesCmd(g),
		newViewCmd(g),
		newFollowCmd(g),
		newReplayCmd(g),
	)
	return root
}

// server connects to the cluster described by the global flags. The
// returned cleanup stops any credentials file watch.
func (g *globalFlags) server() (*couch.Server, func(), error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}

	var opts []client.Option
	cleanup := func() {}
	if g.credentialsFile != "" {
		fc, err := auth.NewFileCredentials(g.credentialsFile)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, client.WithCredentials(fc))
		cleanup = func() { fc.Close() }
	}

	kc, err := client.NewFromConfig(cfg, g.node, config.Interface(g.iface), config.Role(g.role), opts...)
	if err != nil {
		cleanup()
		return nil, nil, errors.Wrap(err, "connecting")
	}
	return couch.NewServer(kc), cleanup, nil
}
