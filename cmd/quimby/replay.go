package main

import (
	"github.com/spf13/cobra"

	"github.com/cloudant/quimby/pkg/record"
	"github.com/cloudant/quimby/pkg/stream"
	"github.com/cloudant/quimby/types"
)

func newReplayCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "replay FILE",
		Short: "Print the changes recorded by follow --record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd.OutOrStdout(), g.color)
			if err != nil {
				return err
			}

			r, err := record.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			// A truncated recording prints nothing rather than a prefix.
			events, err := stream.Collect[types.ChangeEvent](r)
			if err != nil {
				return err
			}
			for _, event := range events {
				p.event(event)
			}
			p.notef("%d changes", len(events))
			return nil
		},
	}
}
