package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pp-content/exercise-store/pkg/exercise/store"
)

// deleteOutput is the json/yaml form of a delete result.
type deleteOutput struct {
	ID            string   `json:"id"`
	DeletedFolder bool     `json:"deleted_folder"`
	DeletedMedia  bool     `json:"deleted_media"`
	Removed       []string `json:"removed"`
	Failures      []string `json:"failures,omitempty"`
}

func (c *cli) newDeleteCmd() *cobra.Command {
	var purgeMedia bool
	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an exercise in every layout it is stored in",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.store.Delete(context.Background(), args[0], store.DeleteOptions{PurgeMedia: purgeMedia})
			if err != nil {
				return err
			}
			out := deleteOutput{
				ID:            res.ID,
				DeletedFolder: res.DeletedFolder,
				DeletedMedia:  res.DeletedMedia,
				Removed:       res.Removed,
				Failures:      res.FailureMessages(),
			}

			tbl := newTable("Removed")
			for _, p := range out.Removed {
				tbl.add(p)
			}
			if err := printOutput(cmd.OutOrStdout(), c.format, out, tbl); err != nil {
				return err
			}
			if len(out.Failures) > 0 {
				for _, f := range out.Failures {
					c.logger.Error("delete cleanup failed", "id", out.ID, "error", f)
				}
				return fmt.Errorf("%s deleted with %d cleanup failures", out.ID, len(out.Failures))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&purgeMedia, "purge-media", false, "Also remove the exercise's uploaded media")
	return cmd
}
