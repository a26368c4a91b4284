package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pp-content/exercise-store/pkg/exercise"
)

func (c *cli) newShowCmd() *cobra.Command {
	var (
		payload bool
		version int
	)
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an exercise's index record or stored content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if version != 0 && !payload {
				return fmt.Errorf("--version requires --payload")
			}
			rt, err := c.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := context.Background()
			id := args[0]

			if payload {
				var p *exercise.Payload
				if version != 0 {
					p, err = rt.store.ResolveVersion(ctx, id, version)
				} else {
					p, err = rt.store.Resolve(ctx, id)
				}
				if err != nil {
					return err
				}
				// A payload has no tabular form.
				format := c.format
				if format == outputTable {
					format = outputJSON
				}
				return printOutput(cmd.OutOrStdout(), format, p, nil)
			}

			rec, err := rt.store.Get(ctx, id)
			if err != nil {
				return err
			}
			tbl := newTable("Field", "Value")
			tbl.add("id", rec.ID)
			tbl.add("type", rec.Type)
			tbl.add("title", rec.Title)
			tbl.add("pinned", versionOrDash(rec.PinnedVersion))
			tbl.add("latest", versionOrDash(rec.LatestVersion))
			tbl.add("versions", joinInts(rec.VersionNumbers()))
			tbl.add("dir", rec.Dir)
			tbl.add("updated", rec.Updated)
			return printOutput(cmd.OutOrStdout(), c.format, rec, tbl)
		},
	}
	cmd.Flags().BoolVar(&payload, "payload", false, "Print the stored document instead of the index record")
	cmd.Flags().IntVar(&version, "version", 0, "Version to print with --payload (default: the pinned version)")
	return cmd
}
