package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/pp-content/exercise-store/pkg/exercise"
	"github.com/pp-content/exercise-store/pkg/exercise/layout"
)

// MigrateOptions controls Migrate.
type MigrateOptions struct {
	// Prune removes the legacy files once their content is in the type/slug layout.
	Prune bool
	// DryRun reports what would be migrated without writing anything.
	DryRun bool
}

// MigrateResult is the outcome for one exercise.
type MigrateResult struct {
	ID       string   `json:"id"`
	Dir      string   `json:"dir"`
	Versions []int    `json:"versions"`
	Skipped  []int    `json:"skipped,omitempty"`
	Pruned   []string `json:"pruned,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// MigrateReport summarizes a Migrate run.
type MigrateReport struct {
	DryRun    bool            `json:"dry_run"`
	Migrated  []MigrateResult `json:"migrated"`
	Unchanged int             `json:"unchanged"`
}

// Migrate copies every version still stored in a legacy layout into the
// exercise's type/slug directory, keeping version numbers and the pin. A
// number that already exists in the type/slug directory is left alone.
func (s *Store) Migrate(ctx context.Context, opts MigrateOptions) (*MigrateReport, error) {
	reg, err := s.index.Load(ctx)
	if err != nil {
		return nil, err
	}

	report := &MigrateReport{DryRun: opts.DryRun, Migrated: []MigrateResult{}}
	for _, rec := range reg.Exercises {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if len(legacyVersions(&rec)) == 0 {
			report.Unchanged++
			continue
		}
		res, err := s.migrateOne(ctx, rec.ID, opts)
		if err != nil {
			res.Error = err.Error()
			s.logger.Warn("exercise migration failed", "id", rec.ID, "error", err)
		}
		report.Migrated = append(report.Migrated, res)
	}

	if !opts.DryRun && len(report.Migrated) > 0 {
		s.emit(ctx, Event{Action: ActionMigrate, Detail: map[string]any{
			"migrated": len(report.Migrated),
			"pruned":   opts.Prune,
		}})
	}
	return report, nil
}

// legacyVersions returns the versions of rec not stored in its type/slug
// directory, ascending.
func legacyVersions(rec *Record) []VersionRef {
	var out []VersionRef
	prefix := ""
	if rec.Dir != "" {
		prefix = strings.TrimSuffix(rec.Dir, "/") + "/"
	}
	for _, v := range rec.Versions {
		if prefix != "" && strings.HasPrefix(v.Path, prefix) && !strings.Contains(strings.TrimPrefix(v.Path, prefix), "/") {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (s *Store) migrateOne(ctx context.Context, id string, opts MigrateOptions) (MigrateResult, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	res := MigrateResult{ID: id, Versions: []int{}}

	reg, err := s.index.Load(ctx)
	if err != nil {
		return res, err
	}
	rec, ok := reg.Find(id)
	if !ok {
		return res, fmt.Errorf("store: migrate %s: %w", id, ErrNotFound)
	}
	legacy := legacyVersions(rec)

	var dir string
	if rec.Dir != "" {
		dir = layout.OSPath(rec.Dir)
	} else if opts.DryRun {
		dir = s.resolver.Dir(rec.Type, rec.Title)
	} else {
		dir, err = s.resolver.Ensure(id, rec.Type, rec.Title)
		if err != nil {
			return res, err
		}
		defer s.resolver.Release(dir, id)
	}
	res.Dir = filepath.ToSlash(dir)

	existing, err := layout.Versions(s.fs, dir)
	if err != nil {
		return res, err
	}
	taken := mapset.NewThreadUnsafeSet(existing...)

	next := rec.clone()
	var superseded []string
	for _, v := range legacy {
		target := filepath.Join(dir, layout.VersionFilename(v.Version))
		if taken.Contains(v.Version) {
			res.Skipped = append(res.Skipped, v.Version)
			next.SetVersion(v.Version, filepath.ToSlash(target))
			superseded = append(superseded, layout.OSPath(v.Path))
			continue
		}
		res.Versions = append(res.Versions, v.Version)
		if opts.DryRun {
			continue
		}
		var payload exercise.Payload
		if err := layout.ReadJSON(s.fs, layout.OSPath(v.Path), &payload); err != nil {
			return res, fmt.Errorf("store: migrate %s version %d: %w", id, v.Version, err)
		}
		payload.ID = id
		payload.Version = v.Version
		if payload.Type == "" {
			payload.Type = rec.Type
		}
		if payload.Title == "" {
			payload.Title = rec.Title
		}
		if err := layout.WriteJSON(s.fs, target, &payload); err != nil {
			return res, err
		}
		taken.Add(v.Version)
		superseded = append(superseded, layout.OSPath(v.Path))
		next.SetVersion(v.Version, filepath.ToSlash(target))
	}
	if opts.DryRun {
		return res, nil
	}

	next.Dir = filepath.ToSlash(dir)
	if err := s.finishMigration(dir, rec, &next); err != nil {
		return res, err
	}

	if opts.Prune {
		pruned, err := s.pruneLegacy(rec, superseded)
		res.Pruned = pruned
		if err != nil {
			s.logger.Warn("legacy files left behind", "id", id, "error", err)
		}
	}

	if err := s.index.Update(ctx, func(reg *Registry) error {
		reg.Upsert(next)
		return nil
	}); err != nil {
		s.index.MarkStale()
		return res, err
	}
	s.invalidate(id)
	s.logger.Info("exercise migrated", "id", id, "dir", res.Dir, "versions", res.Versions)
	return res, nil
}

// finishMigration writes current.json and meta.json of the type/slug
// directory from the migrated record.
func (s *Store) finishMigration(dir string, prev *Record, next *Record) error {
	next.normalize()

	latest, ok := next.PathFor(next.LatestVersion)
	if ok {
		var payload exercise.Payload
		if err := layout.ReadJSON(s.fs, layout.OSPath(latest), &payload); err != nil {
			return fmt.Errorf("store: migrate %s current snapshot: %w", next.ID, err)
		}
		currentPath := filepath.Join(dir, layout.CurrentFile)
		if err := layout.WriteJSON(s.fs, currentPath, &payload); err != nil {
			return err
		}
		next.Current = filepath.ToSlash(currentPath)
	}

	metaPath := filepath.Join(dir, layout.MetaFile)
	var meta Meta
	if err := layout.ReadJSON(s.fs, metaPath, &meta); err != nil {
		meta = Meta{}
		if legacyDir := exerciseDirOf(layout.OSPath(prev.Current)); legacyDir != "" {
			var legacy Meta
			if err := layout.ReadJSON(s.fs, filepath.Join(legacyDir, layout.MetaFile), &legacy); err == nil {
				meta.Created = legacy.Created
			}
		}
	}
	now := s.now().UTC().Format(timestampLayout)
	if meta.Created == "" {
		meta.Created = now
	}
	meta.ID = next.ID
	meta.Type = next.Type
	meta.Title = next.Title
	meta.LatestVersion = next.LatestVersion
	meta.PinnedVersion = next.PinnedVersion
	if next.Overrides != nil {
		meta.Overrides = next.Overrides
	}
	meta.Updated = now
	next.Updated = now
	return layout.WriteJSON(s.fs, metaPath, meta)
}

// pruneLegacy removes the legacy copies of a migrated exercise: the
// superseded version files, every other store file left in their legacy
// directories, and the exercise's flat files. Directories left empty go too.
func (s *Store) pruneLegacy(prev *Record, superseded []string) ([]string, error) {
	gen3 := layout.OSPath(prev.Dir)
	files := newPathSet()
	dirs := newPathSet()
	for _, p := range superseded {
		files.add(p)
		dirs.add(exerciseDirOf(p))
	}
	if prev.Current != "" {
		dirs.add(exerciseDirOf(layout.OSPath(prev.Current)))
	}
	legacyDirs := make([]string, 0, dirs.len())
	for _, d := range dirs.items() {
		if prev.Dir != "" && d == gen3 {
			continue
		}
		legacyDirs = append(legacyDirs, d)
		for _, f := range s.artifactsIn(d) {
			files.add(f)
		}
	}
	flat, err := FlatFiles(s.fs, prev.ID)
	if err != nil {
		s.logger.Warn("failed to list flat exercise files", "id", prev.ID, "error", err)
	}
	for _, f := range flat {
		files.add(f)
	}

	var failures *multierror.Error
	removed, err := s.removeFiles(files.items())
	failures = multierror.Append(failures, err)
	for _, d := range legacyDirs {
		gone, err := s.pruneDir(d)
		failures = multierror.Append(failures, err)
		if gone {
			removed = append(removed, filepath.ToSlash(d)+"/")
		}
	}
	return removed, failures.ErrorOrNil()
}
