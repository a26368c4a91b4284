package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pp-content/exercise-store/pkg/exercise/store"
)

func (c *cli) newMigrateCmd() *cobra.Command {
	var opts store.MigrateOptions
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Move exercises stored in legacy layouts into type/slug directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			report, err := rt.store.Migrate(context.Background(), opts)
			if err != nil {
				return err
			}

			tbl := newTable("ID", "Dir", "Versions", "Skipped", "Pruned", "Error")
			failed := 0
			for _, m := range report.Migrated {
				if m.Error != "" {
					failed++
				}
				tbl.add(
					m.ID,
					m.Dir,
					joinInts(m.Versions),
					joinInts(m.Skipped),
					strconv.Itoa(len(m.Pruned)),
					m.Error,
				)
			}
			if err := printOutput(cmd.OutOrStdout(), c.format, report, tbl); err != nil {
				return err
			}
			if c.format == outputTable {
				note := ""
				if report.DryRun {
					note = " (dry run)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\n%d migrated, %d unchanged%s\n",
					len(report.Migrated)-failed, report.Unchanged, note)
			}
			if failed > 0 {
				return fmt.Errorf("%d exercises failed to migrate", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Prune, "prune", false, "Remove legacy files once their versions are migrated")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Report what would be migrated without writing")
	return cmd
}
