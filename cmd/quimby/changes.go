package main

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cloudant/quimby/pkg/couch"
	"github.com/cloudant/quimby/pkg/feed"
	"github.com/cloudant/quimby/pkg/stream"
	"github.com/cloudant/quimby/types"
)

// feedFlags are shared by the commands that open a feed.
type feedFlags struct {
	feed        string
	since       string
	limit       int
	timeout     time.Duration
	heartbeat   time.Duration
	heartbeats  int
	includeDocs bool
	gzip        bool
	params      []string
}

func (f *feedFlags) register(fs *pflag.FlagSet, defaultFeed types.FeedMode) {
	fs.StringVar(&f.feed, "feed", string(defaultFeed), "feed mode: normal, longpoll or continuous")
	fs.StringVar(&f.since, "since", "", "sequence to start after, or \"now\"")
	fs.IntVar(&f.limit, "limit", 0, "maximum number of rows")
	fs.DurationVar(&f.timeout, "timeout", 0, "server side timeout")
	fs.DurationVar(&f.heartbeat, "heartbeat", 0, "heartbeat interval of continuous feeds")
	fs.IntVar(&f.heartbeats, "heartbeats", 0, "stop a continuous feed after this many heartbeats")
	fs.BoolVar(&f.includeDocs, "include-docs", false, "include document bodies")
	fs.BoolVar(&f.gzip, "gzip", false, "request a gzip encoded feed")
	fs.StringArrayVar(&f.params, "param", nil, "extra query parameter as key=value, repeatable")
}

func (f *feedFlags) options() (couch.ChangesOptions, error) {
	mode := types.FeedMode(f.feed)
	switch mode {
	case types.FeedNormal, types.FeedLongPoll, types.FeedContinuous:
	default:
		return couch.ChangesOptions{}, errors.Newf("unknown feed mode %q", f.feed)
	}
	params, err := parseParams(f.params)
	if err != nil {
		return couch.ChangesOptions{}, err
	}

	opts := couch.ChangesOptions{
		Feed:                mode,
		Limit:               f.limit,
		Timeout:             f.timeout,
		Heartbeat:           f.heartbeat,
		IncludeDocs:         f.includeDocs,
		StopAfterHeartbeats: f.heartbeats,
		Gzip:                f.gzip,
		Params:              params,
	}
	if f.since != "" {
		opts.Since = f.since
	}
	return opts, nil
}

// parseParams splits key=value pairs. Values are sent as given.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, errors.Newf("invalid parameter %q, expected key=value", pair)
		}
		params[k] = v
	}
	return params, nil
}

type feedOpener func(ctx context.Context, opts couch.ChangesOptions) (*feed.Cursor, error)

func newChangesCmd(g *globalFlags) *cobra.Command {
	f := &feedFlags{}
	cmd := &cobra.Command{
		Use:   "changes DB",
		Short: "Print the changes feed of a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, cleanup, err := g.server()
			if err != nil {
				return err
			}
			defer cleanup()
			return runFeed(cmd, g, f, srv.DB(args[0]).Changes)
		},
	}
	f.register(cmd.Flags(), types.FeedNormal)
	return cmd
}

func newDBUpdatesCmd(g *globalFlags) *cobra.Command {
	f := &feedFlags{}
	cmd := &cobra.Command{
		Use:   "db-updates",
		Short: "Print the _db_updates feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, cleanup, err := g.server()
			if err != nil {
				return err
			}
			defer cleanup()
			return runFeed(cmd, g, f, srv.GlobalChanges)
		},
	}
	f.register(cmd.Flags(), types.FeedNormal)
	return cmd
}

func runFeed(cmd *cobra.Command, g *globalFlags, f *feedFlags, open feedOpener) error {
	opts, err := f.options()
	if err != nil {
		return err
	}
	p, err := newPrinter(cmd.OutOrStdout(), g.color)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	cursor, err := open(ctx, opts)
	if err != nil {
		return err
	}
	defer cursor.Close()

	if !cursor.Continuous() {
		results, cp, err := cursor.Read()
		if err != nil {
			return err
		}
		for _, event := range results {
			p.event(event)
		}
		p.checkpoint(cp)
		return nil
	}

	// Rows are pulled on a separate goroutine so an interrupt can stop
	// the feed while it is blocked between heartbeats.
	rows := stream.NewAsyncStream[types.ChangeEvent](cursor)
	stop := context.AfterFunc(ctx, rows.Stop)
	defer stop()

	for event := range rows.ResultChan() {
		p.event(event)
	}
	if err := rows.Error(); err != nil && ctx.Err() == nil {
		return err
	}
	if f.heartbeats > 0 {
		p.notef("stopped after %d heartbeats", cursor.Heartbeats())
	}
	return nil
}
