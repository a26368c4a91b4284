package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/pp-content/exercise-store/pkg/audit"
	"github.com/pp-content/exercise-store/pkg/server"
	"github.com/pp-content/exercise-store/pkg/watch"
)

func (c *cli) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the exercise HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.serve()
			return nil
		},
	}
	cmd.Flags().String("listen", ":8080", "Address to listen on")
	cmd.Flags().Bool("watch", false, "Watch the storage root for changes made by other tools")
	cmd.Flags().Bool("journal", false, "Commit every change to a git repository in the storage root")
	return cmd
}

func (c *cli) serve() {
	cfg := c.cfg
	logger := c.logger

	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	logger.Info("starting exercise server",
		"listen", cfg.Listen,
		"root", cfg.Root,
		"mediaRoot", cfg.MediaRoot,
		"audit", cfg.Audit.Enabled,
		"journal", cfg.Journal.Enabled,
		"watch", cfg.Watch.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	rt, err := c.openRuntime()
	if err != nil {
		glog.Fatalf("Failed to open exercise store: %v", err)
	}
	defer rt.Close()

	opts := []server.ServerOption{
		server.WithLogger(logger),
		server.WithCacheConfig(&cfg.Cache),
		server.WithMaxUploadBytes(cfg.MaxUploadBytes),
	}
	if rt.media != nil {
		opts = append(opts, server.WithMedia(rt.media))
	}
	if rt.audit != nil {
		opts = append(opts, server.WithAudit(rt.audit, rt.auditDB))
		go audit.NewRetentionWorker(rt.audit, cfg.Audit.RetentionDays, logger).Run(ctx)
	}

	srv := server.NewServer(rt.store, opts...)
	if err := srv.Init(ctx); err != nil {
		glog.Fatalf("Failed to load exercise index: %v", err)
	}

	if cfg.Watch.Enabled {
		w, err := watch.New(cfg.Root, func() {
			rt.store.Refresh()
			srv.InvalidateCaches()
		}, watch.WithDebounce(cfg.Watch.Debounce), watch.WithLogger(logger))
		if err != nil {
			glog.Fatalf("Failed to watch %s: %v", cfg.Root, err)
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("watcher stopped", "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()
	logger.Info("exercise server ready", "listen", cfg.Listen)

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("exercise server stopped")
}
