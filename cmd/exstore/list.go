package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"
)

func (c *cli) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored exercises",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			records, err := rt.store.List(context.Background())
			if err != nil {
				return err
			}

			tbl := newTable("ID", "Type", "Title", "Pinned", "Latest", "Versions", "Dir")
			for _, rec := range records {
				tbl.add(
					rec.ID,
					rec.Type,
					truncate(rec.Title, 40),
					versionOrDash(rec.PinnedVersion),
					versionOrDash(rec.LatestVersion),
					strconv.Itoa(len(rec.Versions)),
					dashIfEmpty(rec.Dir),
				)
			}
			return printOutput(cmd.OutOrStdout(), c.format, records, tbl)
		},
	}
}
