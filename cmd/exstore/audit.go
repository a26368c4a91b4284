package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pp-content/exercise-store/pkg/audit"
)

var errAuditDisabled = errors.New("audit trail is disabled (enable it with --audit or audit.enabled)")

func (c *cli) newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and prune the audit trail of store mutations",
	}
	cmd.AddCommand(c.newAuditEventsCmd())
	cmd.AddCommand(c.newAuditPruneCmd())
	return cmd
}

func (c *cli) newAuditEventsCmd() *cobra.Command {
	var (
		filter audit.ListFilter
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.audit == nil {
				return errAuditDisabled
			}

			events, _, total, err := rt.audit.List(filter, limit, "")
			if err != nil {
				return err
			}

			tbl := newTable("Time", "Action", "Exercise", "Version", "Title", "Request")
			views := make([]audit.EventView, 0, len(events))
			for _, ev := range events {
				views = append(views, ev.View())
				tbl.add(
					ev.CreatedAt.UTC().Format(time.RFC3339),
					ev.Action,
					dashIfEmpty(ev.ExerciseID),
					versionOrDash(ev.Version),
					truncate(ev.Title, 30),
					dashIfEmpty(ev.RequestID),
				)
			}
			if err := printOutput(cmd.OutOrStdout(), c.format, views, tbl); err != nil {
				return err
			}
			if c.format == outputTable && total > len(events) {
				fmt.Fprintf(cmd.OutOrStdout(), "\nshowing %d of %d events\n", len(events), total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.ExerciseID, "exercise", "", "Only events of this exercise id")
	cmd.Flags().StringVar(&filter.Action, "action", "", "Only events of this action (save, delete, rebuild, migrate)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of events (at most 100)")
	return cmd
}

func (c *cli) newAuditPruneCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete events older than the retention window now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.audit == nil {
				return errAuditDisabled
			}

			if !cmd.Flags().Changed("days") {
				days = c.cfg.Audit.RetentionDays
			}
			if days <= 0 {
				return fmt.Errorf("--days must be positive, got %d", days)
			}
			worker := audit.NewRetentionWorker(rt.audit, days, c.logger)
			deleted, err := worker.Purge(context.Background())
			if err != nil {
				return err
			}
			out := map[string]any{
				"deleted": deleted,
				"cutoff":  worker.Cutoff().UTC().Format(time.RFC3339),
			}
			if c.format == outputTable {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s events created before %s\n",
					strconv.FormatInt(deleted, 10), out["cutoff"])
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, out, nil)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Days of events to keep (default: audit.retention_days)")
	return cmd
}
