package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/pp-content/exercise-store/pkg/exercise"
	"github.com/pp-content/exercise-store/pkg/exercise/layout"
)

// timestampLayout is ISO-8601 UTC with second precision and a Z suffix.
const timestampLayout = "2006-01-02T15:04:05Z"

// WriteOptions carries the identifying metadata recorded in meta.json.
type WriteOptions struct {
	ID    string
	Type  string
	Title string
	// Pin moves pinned_version to the written version. nil means true.
	Pin       *bool
	Overrides map[string]any
	// InheritPin is recorded as the pin of a freshly created meta.json when
	// Pin is false, so an exercise moving out of a legacy layout keeps its pin.
	InheritPin int
}

func (o WriteOptions) pin() bool {
	return o.Pin == nil || *o.Pin
}

// WriteResult describes what a Write call left on disk.
type WriteResult struct {
	// Path is the root-relative, slash separated path of the version file.
	Path    string
	Current string
	Meta    Meta
}

// Writer persists versions in the generation-3 layout:
// <dir>/NNN.json, <dir>/current.json and <dir>/meta.json.
type Writer struct {
	fs     afero.Fs
	now    func() time.Time
	logger *slog.Logger
}

// NewWriter creates a Writer over the storage root filesystem.
func NewWriter(fs afero.Fs, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{fs: fs, now: time.Now, logger: logger}
}

func (w *Writer) timestamp() string {
	return w.now().UTC().Format(timestampLayout)
}

// Write stores payload as version of the exercise living in dir. The version
// file is written first, then current.json, then meta.json; every file is
// replaced atomically and the first failure is returned.
func (w *Writer) Write(ctx context.Context, dir string, version int, payload *exercise.Payload, opts WriteOptions) (WriteResult, error) {
	if version <= 0 {
		return WriteResult{}, fmt.Errorf("store: write %s: %w", dir, ErrInvalidVersion)
	}
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}

	versionPath := filepath.Join(dir, layout.VersionFilename(version))
	if err := layout.WriteJSON(w.fs, versionPath, payload); err != nil {
		return WriteResult{}, fmt.Errorf("store: failed to write version %d: %w", version, err)
	}

	currentPath := filepath.Join(dir, layout.CurrentFile)
	if err := layout.WriteJSON(w.fs, currentPath, payload); err != nil {
		return WriteResult{}, fmt.Errorf("store: failed to write current snapshot: %w", err)
	}

	meta, err := w.updateMeta(dir, version, opts)
	if err != nil {
		return WriteResult{}, err
	}

	w.logger.Debug("version written", "id", opts.ID, "version", version, "dir", dir)

	return WriteResult{
		Path:    filepath.ToSlash(versionPath),
		Current: filepath.ToSlash(currentPath),
		Meta:    meta,
	}, nil
}

func (w *Writer) updateMeta(dir string, version int, opts WriteOptions) (Meta, error) {
	metaPath := filepath.Join(dir, layout.MetaFile)
	now := w.timestamp()

	var meta Meta
	if err := layout.ReadJSON(w.fs, metaPath, &meta); err != nil {
		if !layout.IsNotExist(err) {
			w.logger.Warn("reinitializing unreadable meta.json", "path", metaPath, "error", err)
		}
		meta = Meta{Created: now}
	}
	if meta.Created == "" {
		meta.Created = now
	}

	meta.ID = opts.ID
	if opts.Type != "" {
		meta.Type = opts.Type
	}
	if opts.Title != "" {
		meta.Title = opts.Title
	}
	if opts.Overrides != nil {
		meta.Overrides = opts.Overrides
	}
	if version > meta.LatestVersion {
		meta.LatestVersion = version
	}
	switch {
	case opts.pin():
		meta.PinnedVersion = version
	case meta.PinnedVersion <= 0 && opts.InheritPin > 0:
		meta.PinnedVersion = opts.InheritPin
	case meta.PinnedVersion <= 0:
		meta.PinnedVersion = version
	}
	meta.Updated = now

	if err := layout.WriteJSON(w.fs, metaPath, meta); err != nil {
		return Meta{}, fmt.Errorf("store: failed to write meta.json: %w", err)
	}
	return meta, nil
}
