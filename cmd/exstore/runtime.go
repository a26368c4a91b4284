package main

import (
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/pp-content/exercise-store/pkg/audit"
	"github.com/pp-content/exercise-store/pkg/cache"
	"github.com/pp-content/exercise-store/pkg/exercise"
	"github.com/pp-content/exercise-store/pkg/exercise/media"
	"github.com/pp-content/exercise-store/pkg/exercise/store"
	"github.com/pp-content/exercise-store/pkg/journal"
)

// runtime is the store with every optional collaborator the configuration
// enables.
type runtime struct {
	store   *store.Store
	media   *media.Manager
	audit   *audit.Store
	auditDB *gorm.DB
	journal *journal.Journal
}

func (c *cli) openRuntime() (*runtime, error) {
	cfg := c.cfg
	rt := &runtime{}
	opts := []store.Option{store.WithLogger(c.logger)}

	if cfg.MediaRoot != "" {
		mgr, err := media.NewOsManager(cfg.MediaRoot,
			media.WithURLPrefix(cfg.MediaURLPrefix),
			media.WithLogger(c.logger))
		if err != nil {
			return nil, err
		}
		rt.media = mgr
		opts = append(opts, store.WithMedia(mgr))
	}

	if cfg.Cache.Enabled {
		opts = append(opts, store.WithPayloadCache(
			cache.NewLRUCache[*exercise.Payload](cfg.Cache.MaxSize, cfg.Cache.PayloadTTL)))
	}

	var sinks []store.EventSink
	if cfg.Audit.Enabled {
		db, err := audit.OpenDB(&cfg.Audit)
		if err != nil {
			return nil, err
		}
		rt.auditDB = db
		rt.audit = audit.NewStore(db)
		sinks = append(sinks, audit.NewRecorder(rt.audit))
	}

	if cfg.Journal.Enabled {
		if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to create %s: %w", cfg.Root, err)
		}
		j, err := journal.Open(cfg.Root,
			journal.WithAuthor(cfg.Journal.AuthorName, cfg.Journal.AuthorEmail),
			journal.WithLogger(c.logger))
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.journal = j
		sinks = append(sinks, j)
	}
	if len(sinks) > 0 {
		opts = append(opts, store.WithEventSinks(sinks...))
	}

	st, err := store.NewOs(cfg.Root, opts...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.store = st
	return rt, nil
}

// Close releases the audit database connection.
func (rt *runtime) Close() {
	if rt.auditDB == nil {
		return
	}
	if sqlDB, err := rt.auditDB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
