package main

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/cloudant/quimby/pkg/checkpoint"
	"github.com/cloudant/quimby/pkg/follower"
	"github.com/cloudant/quimby/pkg/record"
	"github.com/cloudant/quimby/types"
)

func newFollowCmd(g *globalFlags) *cobra.Command {
	var (
		f          = &feedFlags{}
		statePath  string
		recordPath string
		workers    int
	)
	cmd := &cobra.Command{
		Use:   "follow [DB]",
		Short: "Follow a changes feed across disconnects, or _db_updates without DB",
		Long: `Follow keeps a continuous feed open, reconnecting from the last
sequence seen after any failure, and prints each changed document id (or
database name) once it has been dequeued.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workers < 1 {
				return errors.Newf("--workers must be at least 1, got %d", workers)
			}
			opts, err := f.options()
			if err != nil {
				return err
			}
			p, err := newPrinter(cmd.OutOrStdout(), g.color)
			if err != nil {
				return err
			}

			srv, cleanup, err := g.server()
			if err != nil {
				return err
			}
			defer cleanup()

			followOpts := []follower.Option{follower.WithChangesOptions(opts)}

			var store checkpoint.Store = checkpoint.NewMemory()
			if statePath != "" {
				s, err := checkpoint.OpenSQLite(statePath)
				if err != nil {
					return err
				}
				defer s.Close()
				store = s
			}
			followOpts = append(followOpts, follower.WithStore(store))

			if recordPath != "" {
				w, err := record.Create(recordPath)
				if err != nil {
					return err
				}
				defer w.Close()
				followOpts = append(followOpts, follower.WithRecorder(w))
			}

			var fl *follower.Follower
			if len(args) == 0 {
				fl = follower.ForUpdates(srv, followOpts...)
			} else {
				fl = follower.ForDatabase(srv.DB(args[0]), followOpts...)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var (
				mu sync.Mutex
				wg sync.WaitGroup
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					fl.Run(ctx, follower.RunAction(func(ctx context.Context, key string) error {
						mu.Lock()
						defer mu.Unlock()
						p.key(key)
						return nil
					}))
				}()
			}

			err = fl.Follow(ctx)
			cancel()
			wg.Wait()
			klog.V(1).InfoS("stopped following", "since", fl.Since())

			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	f.register(cmd.Flags(), types.FeedContinuous)
	cmd.Flags().StringVar(&statePath, "state", "", "sqlite file keeping the last sequence across runs")
	cmd.Flags().StringVar(&recordPath, "record", "", "append every row to this zstd compressed JSON lines file")
	cmd.Flags().IntVar(&workers, "workers", 1, "number of parallel workers")
	return cmd
}
