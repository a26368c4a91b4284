package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spf13/afero"

	"github.com/pp-content/exercise-store/pkg/exercise/layout"
)

// IndexCache owns exercises.index.json. The index is derived data: a missing,
// empty or unparsable file triggers a full scan instead of an empty listing.
// Every read-modify-write runs under one mutex so concurrent rebuilds and
// updates never interleave.
type IndexCache struct {
	fs      afero.Fs
	scanner *Scanner
	logger  *slog.Logger

	mu    sync.Mutex
	reg   *Registry
	stale bool
}

// NewIndexCache creates an IndexCache for the storage root filesystem.
func NewIndexCache(fs afero.Fs, scanner *Scanner, logger *slog.Logger) *IndexCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexCache{
		fs:      fs,
		scanner: scanner,
		logger:  logger.With("component", "index"),
	}
}

// Load returns a copy of the registry.
func (c *IndexCache) Load(ctx context.Context) (*Registry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reg, err := c.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	return reg.Clone(), nil
}

// Peek returns a copy of the registry like Load, except that a rescan it
// needs is neither persisted nor kept.
func (c *IndexCache) Peek(ctx context.Context) (*Registry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reg != nil && !c.stale {
		return c.reg.Clone(), nil
	}
	onDisk := c.readFileLocked()
	if !c.stale && onDisk != nil && len(onDisk.Exercises) > 0 {
		c.reg = onDisk
		return onDisk.Clone(), nil
	}
	prior := onDisk
	if prior == nil {
		prior = c.reg
	}
	return c.scanner.Scan(ctx, prior)
}

// Update applies fn to the registry and persists the result. The registry
// passed to fn may be modified in place; if fn returns an error nothing is
// saved.
func (c *IndexCache) Update(ctx context.Context, fn func(*Registry) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	reg, err := c.loadLocked(ctx)
	if err != nil {
		return err
	}
	next := reg.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := c.saveLocked(next); err != nil {
		return err
	}
	c.reg = next
	return nil
}

// Save replaces the index with reg.
func (c *IndexCache) Save(_ context.Context, reg *Registry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := reg.Clone()
	if err := c.saveLocked(next); err != nil {
		return err
	}
	c.reg = next
	c.stale = false
	return nil
}

// Invalidate drops the in-memory copy; the next Load reads the index file.
func (c *IndexCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reg = nil
}

// MarkStale forces the next Load to rescan the filesystem.
func (c *IndexCache) MarkStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale = true
}

// Rebuild rescans the filesystem now and persists the result.
func (c *IndexCache) Rebuild(ctx context.Context) (*Registry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reg, err := c.rebuildLocked(ctx, c.readFileLocked())
	if err != nil {
		return nil, err
	}
	return reg.Clone(), nil
}

func (c *IndexCache) loadLocked(ctx context.Context) (*Registry, error) {
	if c.reg != nil && !c.stale {
		return c.reg, nil
	}

	onDisk := c.readFileLocked()
	if !c.stale && onDisk != nil && len(onDisk.Exercises) > 0 {
		c.reg = onDisk
		return c.reg, nil
	}
	return c.rebuildLocked(ctx, onDisk)
}

func (c *IndexCache) rebuildLocked(ctx context.Context, prior *Registry) (*Registry, error) {
	if prior == nil {
		prior = c.reg
	}
	reg, err := c.scanner.Scan(ctx, prior)
	if err != nil {
		return nil, err
	}
	if err := c.saveLocked(reg); err != nil {
		c.logger.Warn("index rebuilt but not persisted", "error", err)
	}
	c.reg = reg
	c.stale = false
	return reg, nil
}

// readFileLocked returns the parsed index file, or nil when it is missing or
// unreadable.
func (c *IndexCache) readFileLocked() *Registry {
	var reg Registry
	if err := layout.ReadJSON(c.fs, layout.IndexFile, &reg); err != nil {
		switch {
		case layout.IsNotExist(err):
		case errors.Is(err, layout.ErrEmptyFile):
			c.logger.Info("index file is empty, rebuilding")
		default:
			c.logger.Warn("index file is corrupt, rebuilding", "error", err)
		}
		return nil
	}
	for i := range reg.Exercises {
		rec := &reg.Exercises[i]
		for j := range rec.Versions {
			rec.Versions[j].Path = layout.NormalizePath(rec.Versions[j].Path)
		}
		if rec.Current != "" {
			rec.Current = layout.NormalizePath(rec.Current)
		}
		rec.normalize()
	}
	return &reg
}

func (c *IndexCache) saveLocked(reg *Registry) error {
	if reg.Exercises == nil {
		reg.Exercises = []Record{}
	}
	if err := layout.WriteJSON(c.fs, layout.IndexFile, reg); err != nil {
		return fmt.Errorf("store: failed to save index: %w", err)
	}
	return nil
}
