package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) newRebuildIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-index",
		Short: "Rescan the storage root and rewrite the index file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			reg, err := rt.store.RebuildIndex(context.Background())
			if err != nil {
				return err
			}
			if c.format == outputTable {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d exercises in %s\n", len(reg.Exercises), c.cfg.Root)
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, reg, nil)
		},
	}
}
