package main

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/cloudant/quimby/pkg/couch"
)

func newViewCmd(g *globalFlags) *cobra.Command {
	var (
		params []string
		keys   []string
	)
	cmd := &cobra.Command{
		Use:   "view DB [DDOC VIEW]",
		Short: "Stream the rows of a view, or of _all_docs without DDOC and VIEW",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 3 {
				return errors.Newf("expected DB or DB DDOC VIEW, got %d arguments", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd.OutOrStdout(), g.color)
			if err != nil {
				return err
			}
			values, err := parseParams(params)
			if err != nil {
				return err
			}
			opts := couch.ViewOptions{Params: values}
			for _, k := range keys {
				opts.Keys = append(opts.Keys, k)
			}

			srv, cleanup, err := g.server()
			if err != nil {
				return err
			}
			defer cleanup()

			db := srv.DB(args[0])
			var it *couch.ViewIterator
			if len(args) == 1 {
				it, err = db.AllDocs(cmd.Context(), opts)
			} else {
				it, err = db.View(cmd.Context(), args[1], args[2], opts)
			}
			if err != nil {
				return err
			}
			defer it.Close()

			if it.TotalRows != nil {
				p.notef("total_rows %d", *it.TotalRows)
			}
			for {
				row, err := it.Next()
				if err != nil {
					if errors.Is(err, io.EOF) {
						return nil
					}
					return err
				}
				p.row(row)
			}
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "query parameter as key=value, repeatable")
	cmd.Flags().StringArrayVar(&keys, "key", nil, "only return rows with this key, repeatable")
	return cmd
}
