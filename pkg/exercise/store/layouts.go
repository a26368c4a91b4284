package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/pp-content/exercise-store/pkg/exercise"
	"github.com/pp-content/exercise-store/pkg/exercise/layout"
)

// Generation identifies one of the on-disk layouts.
type Generation int

const (
	// Flat is generation 1: <id>@v<N>.json files at the root.
	Flat Generation = 1
	// PerID is generation 2: <id>/{meta.json,current.json,versions/vNNN.json}.
	PerID Generation = 2
	// TypeSlug is generation 3: <type>/<slug>/{meta.json,current.json,NNN.json}.
	TypeSlug Generation = 3
)

func (g Generation) String() string {
	switch g {
	case Flat:
		return "flat"
	case PerID:
		return "per-id"
	case TypeSlug:
		return "type-slug"
	default:
		return fmt.Sprintf("generation(%d)", int(g))
	}
}

// partial is what one layout knows about one exercise.
type partial struct {
	Generation Generation
	ID         string
	Type       string
	Title      string
	Pinned     int
	Latest     int
	Dir        string
	Current    string
	Updated    string
	Overrides  map[string]any
	Versions   map[int]string
}

// layoutReader finds every exercise stored in one layout generation.
type layoutReader interface {
	Generation() Generation
	Read(ctx context.Context) ([]partial, error)
}

type readerBase struct {
	fs     afero.Fs
	logger *slog.Logger
}

func (b readerBase) readMeta(dir string) (Meta, bool) {
	var meta Meta
	p := filepath.Join(dir, layout.MetaFile)
	if err := layout.ReadJSON(b.fs, p, &meta); err != nil {
		if !layout.IsNotExist(err) {
			b.logger.Warn("skipping corrupt meta file", "path", p, "error", err)
		}
		return Meta{}, false
	}
	return meta, true
}

func (b readerBase) readPayload(p string) (*exercise.Payload, bool) {
	var payload exercise.Payload
	if err := layout.ReadJSON(b.fs, p, &payload); err != nil {
		if !layout.IsNotExist(err) {
			b.logger.Warn("skipping corrupt exercise file", "path", p, "error", err)
		}
		return nil, false
	}
	return &payload, true
}

// fillFromPayloads fills missing id, type and title from the payloads,
// newest first: current.json, then the version files in descending order.
func (b readerBase) fillFromPayloads(p *partial) {
	complete := func() bool { return p.ID != "" && p.Type != "" && p.Title != "" }
	if complete() {
		return
	}
	candidates := make([]string, 0, len(p.Versions)+1)
	if p.Current != "" {
		candidates = append(candidates, p.Current)
	}
	for _, n := range sortedDesc(p.Versions) {
		candidates = append(candidates, p.Versions[n])
	}
	for _, c := range candidates {
		payload, ok := b.readPayload(layout.OSPath(c))
		if !ok {
			continue
		}
		if p.ID == "" {
			p.ID = payload.ID
		}
		if p.Type == "" {
			p.Type = payload.Type
		}
		if p.Title == "" {
			p.Title = payload.Title
		}
		if complete() {
			return
		}
	}
}

func (b readerBase) listDir(dir string) ([]os.FileInfo, error) {
	entries, err := afero.ReadDir(b.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: failed to list %s: %w", dir, err)
	}
	return entries, nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func sortedDesc(m map[int]string) []int {
	out := make([]int, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

func applyMeta(p *partial, meta Meta) {
	p.ID = meta.ID
	p.Type = meta.Type
	p.Title = meta.Title
	p.Pinned = meta.PinnedVersion
	p.Latest = meta.LatestVersion
	p.Updated = meta.Updated
	p.Overrides = meta.Overrides
}

// typeSlugReader reads <type>/<slug>/ directories.
type typeSlugReader struct{ readerBase }

func (typeSlugReader) Generation() Generation { return TypeSlug }

func (r typeSlugReader) Read(ctx context.Context) ([]partial, error) {
	typeDirs, err := r.listDir(".")
	if err != nil {
		return nil, err
	}
	var out []partial
	for _, td := range typeDirs {
		if !td.IsDir() || hidden(td.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		subdirs, err := r.listDir(td.Name())
		if err != nil {
			r.logger.Warn("skipping unreadable directory", "dir", td.Name(), "error", err)
			continue
		}
		for _, sd := range subdirs {
			if !sd.IsDir() || hidden(sd.Name()) {
				continue
			}
			if p, ok := r.readExercise(filepath.Join(td.Name(), sd.Name())); ok {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (r typeSlugReader) readExercise(dir string) (partial, bool) {
	p := partial{Generation: TypeSlug, Dir: filepath.ToSlash(dir), Versions: map[int]string{}}

	versions, err := layout.Versions(r.fs, dir)
	if err != nil {
		r.logger.Warn("skipping unreadable exercise directory", "dir", dir, "error", err)
		return partial{}, false
	}
	for _, n := range versions {
		p.Versions[n] = filepath.ToSlash(filepath.Join(dir, layout.VersionFilename(n)))
	}

	meta, hasMeta := r.readMeta(dir)
	currentPath := filepath.Join(dir, layout.CurrentFile)
	hasCurrent := layout.Exists(r.fs, currentPath)
	if !hasMeta && !hasCurrent && len(versions) == 0 {
		return partial{}, false
	}
	if hasMeta {
		applyMeta(&p, meta)
	}
	if hasCurrent {
		p.Current = filepath.ToSlash(currentPath)
	}
	r.fillFromPayloads(&p)
	if p.ID == "" {
		r.logger.Warn("skipping exercise directory without an id", "dir", dir)
		return partial{}, false
	}
	return p, true
}

// perIDReader reads <id>/ directories with a versions/ subdirectory.
type perIDReader struct{ readerBase }

func (perIDReader) Generation() Generation { return PerID }

func (r perIDReader) Read(ctx context.Context) ([]partial, error) {
	dirs, err := r.listDir(".")
	if err != nil {
		return nil, err
	}
	var out []partial
	for _, d := range dirs {
		if !d.IsDir() || hidden(d.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p, ok := r.readExercise(d.Name()); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r perIDReader) readExercise(dir string) (partial, bool) {
	p := partial{Generation: PerID, Dir: filepath.ToSlash(dir), Versions: map[int]string{}}

	versionsDir := filepath.Join(dir, layout.VersionsDir)
	entries, err := r.listDir(versionsDir)
	if err != nil {
		r.logger.Warn("skipping unreadable versions directory", "dir", versionsDir, "error", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := layout.ParseLegacyVersionFilename(e.Name()); ok {
			p.Versions[n] = filepath.ToSlash(filepath.Join(versionsDir, e.Name()))
		}
	}

	meta, hasMeta := r.readMeta(dir)
	currentPath := filepath.Join(dir, layout.CurrentFile)
	hasCurrent := layout.Exists(r.fs, currentPath)
	if !hasMeta && !hasCurrent && len(p.Versions) == 0 {
		return partial{}, false
	}
	if hasMeta {
		applyMeta(&p, meta)
	}
	if hasCurrent {
		p.Current = filepath.ToSlash(currentPath)
	}
	r.fillFromPayloads(&p)
	if p.ID == "" {
		p.ID = filepath.Base(dir)
	}
	return p, true
}

// flatReader reads <id>@v<N>.json files at the root.
type flatReader struct{ readerBase }

func (flatReader) Generation() Generation { return Flat }

func (r flatReader) Read(ctx context.Context) ([]partial, error) {
	files, err := r.listDir(".")
	if err != nil {
		return nil, err
	}
	byID := map[string]*partial{}
	var order []string
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		id, n, ok := layout.ParseFlatFilename(f.Name())
		if !ok {
			continue
		}
		p, seen := byID[id]
		if !seen {
			p = &partial{Generation: Flat, ID: id, Versions: map[int]string{}}
			byID[id] = p
			order = append(order, id)
		}
		p.Versions[n] = f.Name()
	}

	out := make([]partial, 0, len(order))
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := byID[id]
		r.fillFromPayloads(p)
		// the file name is authoritative for flat files
		p.ID = id
		out = append(out, *p)
	}
	return out, nil
}

// FlatFiles lists the generation-1 files belonging to id.
func FlatFiles(fs afero.Fs, id string) ([]string, error) {
	entries, err := afero.ReadDir(fs, ".")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if fid, _, ok := layout.ParseFlatFilename(e.Name()); ok && fid == id {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
