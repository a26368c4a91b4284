package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/pp-content/exercise-store/pkg/exercise/layout"
)

// DeleteOptions controls Delete.
type DeleteOptions struct {
	// PurgeMedia also removes the exercise's media directory.
	PurgeMedia bool
}

// DeleteResult reports what Delete removed. Failures aggregates every
// removal that did not succeed; they never stop the remaining cleanup.
type DeleteResult struct {
	ID            string   `json:"id"`
	DeletedFolder bool     `json:"deleted_folder"`
	DeletedMedia  bool     `json:"deleted_media"`
	Removed       []string `json:"removed"`
	Failures      error    `json:"-"`
}

// FailureMessages flattens Failures for display.
func (r *DeleteResult) FailureMessages() []string {
	if r == nil || r.Failures == nil {
		return nil
	}
	if merr, ok := r.Failures.(*multierror.Error); ok {
		out := make([]string, 0, len(merr.Errors))
		for _, e := range merr.Errors {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{r.Failures.Error()}
}

// Delete removes every artifact of exercise id in every layout generation
// and drops it from the index. An id with neither an index entry nor files
// yields ErrNotFound and leaves the index untouched.
func (s *Store) Delete(ctx context.Context, id string, opts DeleteOptions) (*DeleteResult, error) {
	if !ValidID(id) {
		return nil, invalid("id", "contains unsupported characters")
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reg, err := s.index.Peek(ctx)
	if err != nil {
		return nil, err
	}
	rec, indexed := reg.Find(id)

	files := newPathSet()
	dirs := newPathSet()
	if indexed {
		for _, v := range rec.Versions {
			p := layout.OSPath(v.Path)
			files.add(p)
			dirs.add(exerciseDirOf(p))
		}
		if rec.Current != "" {
			p := layout.OSPath(rec.Current)
			files.add(p)
			dirs.add(exerciseDirOf(p))
		}
		if rec.Dir != "" {
			dirs.add(layout.OSPath(rec.Dir))
		}
	}
	if dirs.len() == 0 {
		for _, d := range s.findDirs(id) {
			dirs.add(d)
		}
	}
	for _, d := range dirs.items() {
		for _, f := range s.artifactsIn(d) {
			files.add(f)
		}
	}
	flat, err := FlatFiles(s.fs, id)
	if err != nil {
		s.logger.Warn("failed to list flat exercise files", "id", id, "error", err)
	}
	for _, f := range flat {
		files.add(f)
	}

	if !indexed && files.len() == 0 && dirs.len() == 0 {
		return nil, fmt.Errorf("store: delete %s: %w", id, ErrNotFound)
	}

	result := &DeleteResult{ID: id, Removed: []string{}}
	var failures *multierror.Error

	removed, err := s.removeFiles(files.items())
	result.Removed = append(result.Removed, removed...)
	failures = multierror.Append(failures, err)

	for _, d := range dirs.items() {
		gone, err := s.pruneDir(d)
		if err != nil {
			failures = multierror.Append(failures, err)
		}
		if gone {
			result.DeletedFolder = true
			result.Removed = append(result.Removed, filepath.ToSlash(d)+"/")
		}
	}

	if indexed {
		if err := s.index.Update(ctx, func(reg *Registry) error {
			reg.Remove(id)
			return nil
		}); err != nil {
			failures = multierror.Append(failures, err)
			s.index.MarkStale()
		}
	}

	if opts.PurgeMedia && s.media != nil {
		purged, err := s.media.Purge(ctx, id)
		if err != nil {
			failures = multierror.Append(failures, err)
		}
		result.DeletedMedia = purged
	}

	result.Failures = failures.ErrorOrNil()
	s.invalidate(id)

	s.logger.Info("exercise deleted", "id", id, "removed", len(result.Removed), "failures", len(result.FailureMessages()))
	s.emit(ctx, Event{
		Action:     ActionDelete,
		ExerciseID: id,
		Detail: map[string]any{
			"deleted_folder": result.DeletedFolder,
			"deleted_media":  result.DeletedMedia,
			"failures":       result.FailureMessages(),
		},
	})
	return result, nil
}

// exerciseDirOf returns the exercise directory holding a stored file, or ""
// for flat files at the root.
func exerciseDirOf(p string) string {
	dir := filepath.Dir(p)
	if _, legacy := layout.ParseLegacyVersionFilename(filepath.Base(p)); legacy && filepath.Base(dir) == layout.VersionsDir {
		dir = filepath.Dir(dir)
	}
	if dir == "." {
		return ""
	}
	return dir
}

// insideRoot reports whether a root-relative path stays inside the root.
func insideRoot(p string) bool {
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return false
	}
	return clean != "."
}

// findDirs looks for exercise directories of id in every layout by reading
// the ids recorded in meta.json and current.json.
func (s *Store) findDirs(id string) []string {
	var out []string
	top, err := afero.ReadDir(s.fs, ".")
	if err != nil {
		return nil
	}
	for _, d := range top {
		if !d.IsDir() || hidden(d.Name()) {
			continue
		}
		if d.Name() == id || layout.OwnerID(s.fs, d.Name()) == id {
			out = append(out, d.Name())
			continue
		}
		subdirs, err := afero.ReadDir(s.fs, d.Name())
		if err != nil {
			continue
		}
		for _, sd := range subdirs {
			if !sd.IsDir() || hidden(sd.Name()) {
				continue
			}
			dir := filepath.Join(d.Name(), sd.Name())
			if layout.OwnerID(s.fs, dir) == id {
				out = append(out, dir)
			}
		}
	}
	return out
}

// artifactsIn lists the store-owned files in an exercise directory of any
// layout: numbered versions, versions/vNNN.json, meta.json and current.json.
func (s *Store) artifactsIn(dir string) []string {
	var out []string
	versions, _ := layout.Versions(s.fs, dir)
	for _, n := range versions {
		out = append(out, filepath.Join(dir, layout.VersionFilename(n)))
	}
	legacyDir := filepath.Join(dir, layout.VersionsDir)
	if entries, err := afero.ReadDir(s.fs, legacyDir); err == nil {
		for _, e := range entries {
			if _, ok := layout.ParseLegacyVersionFilename(e.Name()); ok && !e.IsDir() {
				out = append(out, filepath.Join(legacyDir, e.Name()))
			}
		}
	}
	for _, name := range []string{layout.MetaFile, layout.CurrentFile} {
		p := filepath.Join(dir, name)
		if layout.Exists(s.fs, p) {
			out = append(out, p)
		}
	}
	return out
}

// removeFiles removes every path, skipping ones already gone.
func (s *Store) removeFiles(paths []string) ([]string, error) {
	var removed []string
	var failures *multierror.Error
	for _, p := range paths {
		if !insideRoot(p) {
			failures = multierror.Append(failures, fmt.Errorf("store: refusing to remove %q outside the storage root", p))
			continue
		}
		if err := s.fs.Remove(p); err != nil {
			if layout.IsNotExist(err) {
				continue
			}
			failures = multierror.Append(failures, fmt.Errorf("store: failed to remove %s: %w", p, err))
			continue
		}
		removed = append(removed, filepath.ToSlash(p))
	}
	return removed, failures.ErrorOrNil()
}

// pruneDir removes dir's empty versions/ subdirectory, then dir itself and
// its parent type directory when they are left empty. It reports whether dir
// is gone.
func (s *Store) pruneDir(dir string) (bool, error) {
	if dir == "" || !insideRoot(dir) {
		return false, nil
	}
	if _, err := s.fs.Stat(dir); err != nil {
		return false, nil
	}
	var failures *multierror.Error
	legacyDir := filepath.Join(dir, layout.VersionsDir)
	if empty, err := afero.IsEmpty(s.fs, legacyDir); err == nil && empty {
		if err := s.fs.Remove(legacyDir); err != nil {
			failures = multierror.Append(failures, fmt.Errorf("store: failed to remove %s: %w", legacyDir, err))
		}
	}
	empty, err := afero.IsEmpty(s.fs, dir)
	if err != nil || !empty {
		return false, failures.ErrorOrNil()
	}
	if err := s.fs.Remove(dir); err != nil {
		failures = multierror.Append(failures, fmt.Errorf("store: failed to remove %s: %w", dir, err))
		return false, failures.ErrorOrNil()
	}
	if parent := filepath.Dir(dir); parent != "." {
		if empty, err := afero.IsEmpty(s.fs, parent); err == nil && empty {
			_ = s.fs.Remove(parent)
		}
	}
	return true, failures.ErrorOrNil()
}

// pathSet is an insertion-ordered set of paths.
type pathSet struct {
	seen  map[string]struct{}
	order []string
}

func newPathSet() *pathSet {
	return &pathSet{seen: map[string]struct{}{}}
}

func (p *pathSet) add(path string) {
	if path == "" {
		return
	}
	if _, ok := p.seen[path]; ok {
		return
	}
	p.seen[path] = struct{}{}
	p.order = append(p.order, path)
}

func (p *pathSet) items() []string { return p.order }
func (p *pathSet) len() int        { return len(p.order) }
