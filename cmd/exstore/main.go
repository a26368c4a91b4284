// Package main provides exstore, the exercise store binary. It serves the
// HTTP API and runs maintenance commands directly against a storage root.
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pp-content/exercise-store/pkg/config"
)

var version = "dev"

// cli holds state shared by every subcommand once flags are parsed.
type cli struct {
	configPath string
	outputFlag string

	cfg    *config.Config
	format outputFormat
	logger *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "exstore",
		Short: "Versioned JSON store for interactive exercises",
		Long: `exstore manages a directory of exercise documents.

Every save writes a new numbered version; the pinned version is what learners
see. Content written by older releases (flat <id>@v<N>.json files and per-id
directories) is read transparently and can be moved to the current layout
with the migrate command.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&c.configPath, "config", os.Getenv("EXSTORE_CONFIG"), "Path to a YAML config file")
	pf.StringVarP(&c.outputFlag, "output", "o", "table", "Output format: table, json, yaml")
	pf.String("root", "", "Exercise storage directory")
	pf.String("media-root", "", "Directory uploaded media is stored under")
	pf.String("log-format", "text", "Log format: text, json")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.Bool("audit", true, "Record mutations in the audit database")

	rootCmd.AddCommand(c.newServeCmd())
	rootCmd.AddCommand(c.newListCmd())
	rootCmd.AddCommand(c.newShowCmd())
	rootCmd.AddCommand(c.newRebuildIndexCmd())
	rootCmd.AddCommand(c.newMigrateCmd())
	rootCmd.AddCommand(c.newDeleteCmd())
	rootCmd.AddCommand(c.newAuditCmd())

	return rootCmd
}

func (c *cli) init(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	format, err := parseOutputFormat(c.outputFlag)
	if err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	// The server logs to stdout; maintenance commands keep stdout for output.
	var w io.Writer = cmd.ErrOrStderr()
	if cmd.Name() == "serve" {
		w = cmd.OutOrStdout()
	}
	c.logger = newLogger(w, cfg.LogFormat, level)
	slog.SetDefault(c.logger)

	c.cfg = cfg
	c.format = format
	return nil
}

func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
