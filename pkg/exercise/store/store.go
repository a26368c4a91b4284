// Package store is the versioned exercise store. Exercises are plain JSON
// files under a storage root, written in the type/slug layout and readable
// in every layout the store has used. A derived index speeds up listing and
// lookup and is rebuilt from the files whenever it cannot be trusted.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/pp-content/exercise-store/pkg/cache"
	"github.com/pp-content/exercise-store/pkg/exercise"
	"github.com/pp-content/exercise-store/pkg/exercise/layout"
	"github.com/pp-content/exercise-store/pkg/exercise/media"
)

var idRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidID reports whether id is usable as an exercise id and directory name.
func ValidID(id string) bool {
	return idRe.MatchString(id) && !strings.Contains(id, "..")
}

// MediaPlanner resolves media fields of a payload being saved.
type MediaPlanner interface {
	Plan(ctx context.Context, id string, prior, next *exercise.Payload, uploads []media.Upload) (*media.Plan, error)
	Purge(ctx context.Context, id string) (bool, error)
}

// Store is the facade over the writer, scanner, index and media manager.
type Store struct {
	fs       afero.Fs
	resolver *layout.Resolver
	writer   *Writer
	scanner  *Scanner
	index    *IndexCache
	media    MediaPlanner
	payloads *cache.LRUCache[*exercise.Payload]
	locks    *keyedMutex
	sinks    []EventSink
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by the store and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMedia enables media handling on save and purge on delete.
func WithMedia(m MediaPlanner) Option {
	return func(s *Store) {
		s.media = m
	}
}

// WithPayloadCache caches resolved payloads.
func WithPayloadCache(c *cache.LRUCache[*exercise.Payload]) Option {
	return func(s *Store) {
		s.payloads = c
	}
}

// WithEventSinks registers sinks notified after each mutation.
func WithEventSinks(sinks ...EventSink) Option {
	return func(s *Store) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a Store over fs, which must be rooted at the storage root.
func New(fs afero.Fs, opts ...Option) *Store {
	s := &Store{
		fs:     fs,
		locks:  newKeyedMutex(),
		logger: slog.Default(),
		now:    time.Now,
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = layout.NewResolver(fs)
	s.writer = NewWriter(fs, s.logger)
	s.writer.now = s.now
	s.scanner = NewScanner(fs, s.logger)
	s.index = NewIndexCache(fs, s.scanner, s.logger)
	s.logger = s.logger.With("component", "store")
	return s
}

// NewOs creates a Store for the directory root on the local disk.
func NewOs(root string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("store: invalid root %q: %w", root, err)
	}
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("store: failed to create root %s: %w", abs, err)
	}
	return New(afero.NewBasePathFs(osFs, abs), opts...), nil
}

// Index exposes the index cache, e.g. for marking it stale on external edits.
func (s *Store) Index() *IndexCache {
	return s.index
}

// SaveRequest is one editor save.
type SaveRequest struct {
	// ID of the exercise to update; empty creates a new exercise.
	ID    string
	Type  string
	Title string
	// Version overwrites that version when positive; otherwise the next
	// version number is allocated.
	Version int
	// Pin moves the pinned version to the saved one. nil means true.
	Pin *bool
	// Content carries the document body; its id, type, title and version
	// fields are replaced.
	Content   exercise.Payload
	Overrides map[string]any
	Uploads   []media.Upload
}

// SaveResult reports the outcome of a save.
type SaveResult struct {
	ID            string   `json:"id"`
	SavedVersion  int      `json:"saved_version"`
	PinnedVersion int      `json:"pinned_version"`
	LatestVersion int      `json:"latest_version"`
	Versions      []int    `json:"versions"`
	Path          string   `json:"path"`
	MediaRemoved  []string `json:"media_removed,omitempty"`
}

// Save writes a new version of an exercise.
func (s *Store) Save(ctx context.Context, req SaveRequest) (*SaveResult, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, invalid("title", "is required")
	}
	if req.Version < 0 {
		return nil, fmt.Errorf("store: save: %w", ErrInvalidVersion)
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = s.newID()
	} else if !ValidID(id) {
		return nil, invalid("id", "contains unsupported characters")
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reg, err := s.index.Load(ctx)
	if err != nil {
		return nil, err
	}
	rec, exists := reg.Find(id)

	typ := strings.TrimSpace(req.Type)
	if typ == "" && exists {
		typ = rec.Type
	}
	if typ == "" && !exists {
		return nil, invalid("type", "is required for new exercises")
	}

	// An in-place edit inherits media from the version it overwrites.
	var prior *exercise.Payload
	if exists {
		priorVersion := 0
		if req.Version > 0 && rec.HasVersion(req.Version) {
			priorVersion = req.Version
		}
		if p, _, err := s.readRecord(rec, priorVersion); err == nil {
			prior = p
		} else {
			s.logger.Warn("no prior version readable, media will not be carried over", "id", id, "error", err)
		}
	}

	dir, err := s.targetDir(id, typ, title, rec)
	if err != nil {
		return nil, err
	}
	defer s.resolver.Release(dir, id)

	version := req.Version
	if version == 0 {
		next, err := layout.NextVersion(s.fs, dir)
		if err != nil {
			return nil, err
		}
		if exists && rec.MaxVersion() >= next {
			next = rec.MaxVersion() + 1
		}
		version = next
	}

	payload := req.Content.Clone()
	payload.ID = id
	payload.Type = typ
	payload.Title = title
	payload.Version = version
	switch {
	case prior != nil && prior.CreatedAt != "":
		payload.CreatedAt = prior.CreatedAt
	case payload.CreatedAt == "":
		payload.CreatedAt = s.now().UTC().Format(timestampLayout)
	}

	var plan *media.Plan
	if s.media != nil {
		plan, err = s.media.Plan(ctx, id, prior, payload, req.Uploads)
		if err != nil {
			return nil, fmt.Errorf("store: media for %s: %w", id, err)
		}
	} else if len(req.Uploads) > 0 {
		s.logger.Warn("media handling disabled, ignoring uploads", "id", id, "uploads", len(req.Uploads))
	}

	overrides := req.Overrides
	inheritPin := 0
	if exists {
		if overrides == nil {
			overrides = rec.Overrides
		}
		inheritPin = rec.PinnedVersion
	}
	res, err := s.writer.Write(ctx, dir, version, payload, WriteOptions{
		ID:         id,
		Type:       typ,
		Title:      title,
		Pin:        req.Pin,
		Overrides:  overrides,
		InheritPin: inheritPin,
	})
	if err != nil {
		if rbErr := plan.Rollback(); rbErr != nil {
			s.logger.Warn("failed to roll back stored media", "id", id, "error", rbErr)
		}
		return nil, err
	}

	saved := s.recordAfterWrite(rec, id, dir, version, res, req.Pin)
	if err := s.index.Update(ctx, func(reg *Registry) error {
		reg.Upsert(saved)
		return nil
	}); err != nil {
		s.logger.Warn("index update failed, marking index stale", "id", id, "error", err)
		s.index.MarkStale()
	}

	removed, err := plan.Commit()
	if err != nil {
		s.logger.Warn("failed to remove deleted media", "id", id, "error", err)
	}

	s.invalidate(id)
	saved.normalize()
	s.logger.Info("exercise saved", "id", id, "version", version, "pinned", saved.PinnedVersion)
	s.emit(ctx, Event{
		Action:     ActionSave,
		ExerciseID: id,
		Version:    version,
		Title:      title,
		Type:       typ,
		Detail:     map[string]any{"path": res.Path, "pinned_version": saved.PinnedVersion},
	})

	return &SaveResult{
		ID:            id,
		SavedVersion:  version,
		PinnedVersion: saved.PinnedVersion,
		LatestVersion: saved.LatestVersion,
		Versions:      saved.VersionNumbers(),
		Path:          res.Path,
		MediaRemoved:  removed,
	}, nil
}

// targetDir returns the generation-3 directory new versions of id go to and
// claims it for id; the caller releases the claim after writing. An exercise
// keeps its directory when its title changes.
func (s *Store) targetDir(id, typ, title string, rec *Record) (string, error) {
	if rec != nil && rec.Dir != "" {
		dir := layout.OSPath(rec.Dir)
		if s.resolver.Claim(dir, id) {
			if err := s.fs.MkdirAll(dir, 0o755); err != nil {
				s.resolver.Release(dir, id)
				return "", fmt.Errorf("store: failed to create %s: %w", dir, err)
			}
			return dir, nil
		}
	}
	return s.resolver.Ensure(id, typ, title)
}

func (s *Store) recordAfterWrite(prev *Record, id, dir string, version int, res WriteResult, pin *bool) Record {
	next := Record{ID: id}
	if prev != nil {
		next = prev.clone()
	}
	next.Type = res.Meta.Type
	next.Title = res.Meta.Title
	next.Dir = filepath.ToSlash(dir)
	next.Current = res.Current
	next.Updated = res.Meta.Updated
	next.Overrides = res.Meta.Overrides
	next.SetVersion(version, res.Path)

	next.LatestVersion = res.Meta.LatestVersion
	if highest := next.MaxVersion(); highest > next.LatestVersion {
		next.LatestVersion = highest
	}
	switch {
	case pin == nil || *pin:
		next.PinnedVersion = version
	case prev != nil && prev.HasVersion(prev.PinnedVersion):
		next.PinnedVersion = prev.PinnedVersion
	default:
		next.PinnedVersion = res.Meta.PinnedVersion
	}
	return next
}

// Resolve returns the payload to serve for id: the pinned version, else the
// latest, else the current snapshot.
func (s *Store) Resolve(ctx context.Context, id string) (*exercise.Payload, error) {
	return s.cachedResolve(ctx, id, 0)
}

// ResolveVersion returns a specific stored version of id.
func (s *Store) ResolveVersion(ctx context.Context, id string, version int) (*exercise.Payload, error) {
	if version <= 0 {
		return nil, fmt.Errorf("store: resolve %s: %w", id, ErrInvalidVersion)
	}
	return s.cachedResolve(ctx, id, version)
}

func (s *Store) cachedResolve(ctx context.Context, id string, version int) (*exercise.Payload, error) {
	key := payloadKey(id, version)
	if s.payloads != nil {
		if p, ok := s.payloads.Get(key); ok {
			return p.Clone(), nil
		}
	}

	p, err := s.resolve(ctx, id, version)
	if err != nil {
		return nil, err
	}
	if s.payloads != nil {
		s.payloads.Set(key, p.Clone())
	}
	return p, nil
}

func payloadKey(id string, version int) string {
	if version == 0 {
		return id + "/"
	}
	return fmt.Sprintf("%s/%d", id, version)
}

func (s *Store) resolve(ctx context.Context, id string, version int) (*exercise.Payload, error) {
	for attempt := 0; ; attempt++ {
		reg, err := s.index.Load(ctx)
		if err != nil {
			return nil, err
		}
		rec, ok := reg.Find(id)
		if !ok {
			return nil, fmt.Errorf("store: %s: %w", id, ErrNotFound)
		}
		p, missing, err := s.readRecord(rec, version)
		if err == nil {
			return p, nil
		}
		if !missing || attempt > 0 {
			return nil, err
		}
		s.logger.Info("index points at missing files, rescanning", "id", id)
		s.index.MarkStale()
	}
}

// readRecord reads version of rec, or the resolved version when version is
// 0. missing reports whether a file named by the record was absent, which
// means the index is out of date.
func (s *Store) readRecord(rec *Record, version int) (payload *exercise.Payload, missing bool, err error) {
	type candidate struct {
		path    string
		version int
	}
	var candidates []candidate
	if version > 0 {
		p, ok := rec.PathFor(version)
		if !ok {
			return nil, false, fmt.Errorf("store: %s version %d: %w", rec.ID, version, ErrNotFound)
		}
		candidates = append(candidates, candidate{p, version})
	} else {
		if p, ok := rec.PathFor(rec.PinnedVersion); ok {
			candidates = append(candidates, candidate{p, rec.PinnedVersion})
		}
		if p, ok := rec.PathFor(rec.LatestVersion); ok && rec.LatestVersion != rec.PinnedVersion {
			candidates = append(candidates, candidate{p, rec.LatestVersion})
		}
		if rec.Current != "" {
			candidates = append(candidates, candidate{rec.Current, 0})
		}
	}

	for _, c := range candidates {
		var p exercise.Payload
		err := layout.ReadJSON(s.fs, layout.OSPath(c.path), &p)
		if err != nil {
			if layout.IsNotExist(err) {
				missing = true
			} else {
				s.logger.Warn("skipping unreadable version", "id", rec.ID, "path", c.path, "error", err)
			}
			continue
		}
		if c.version > 0 {
			p.Version = c.version
		}
		if p.ID == "" {
			p.ID = rec.ID
		}
		return &p, missing, nil
	}
	return nil, missing, fmt.Errorf("store: %s has no readable version: %w", rec.ID, ErrNotFound)
}

// Get returns the index record of id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	reg, err := s.index.Load(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := reg.Find(id)
	if !ok {
		return nil, fmt.Errorf("store: %s: %w", id, ErrNotFound)
	}
	out := rec.clone()
	return &out, nil
}

// List returns every exercise ordered by type, then title.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	reg, err := s.index.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := reg.Exercises
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RebuildIndex rescans the storage root and replaces the index.
func (s *Store) RebuildIndex(ctx context.Context) (*Registry, error) {
	reg, err := s.index.Rebuild(ctx)
	if err != nil {
		return nil, err
	}
	if s.payloads != nil {
		s.payloads.InvalidateAll()
	}
	s.emit(ctx, Event{Action: ActionRebuild, Detail: map[string]any{"exercises": len(reg.Exercises)}})
	return reg, nil
}

// Refresh drops cached state after the files changed behind the store's back.
func (s *Store) Refresh() {
	s.index.MarkStale()
	if s.payloads != nil {
		s.payloads.InvalidateAll()
	}
}

func (s *Store) invalidate(id string) {
	if s.payloads != nil {
		s.payloads.InvalidatePrefix(id + "/")
	}
}

// IsNotFound reports whether err means a missing exercise or version.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
