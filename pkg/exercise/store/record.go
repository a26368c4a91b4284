package store

import (
	"path"
	"sort"
)

// Meta is the content of a per-exercise meta.json.
type Meta struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Title         string         `json:"title"`
	Created       string         `json:"created,omitempty"`
	Updated       string         `json:"updated,omitempty"`
	LatestVersion int            `json:"latest_version,omitempty"`
	PinnedVersion int            `json:"pinned_version,omitempty"`
	Overrides     map[string]any `json:"overrides,omitempty"`
}

// VersionRef locates one stored version. Path is relative to the storage
// root and uses forward slashes.
type VersionRef struct {
	Version int    `json:"version"`
	Path    string `json:"path"`
}

// Record is the index entry for one exercise.
type Record struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Title         string         `json:"title"`
	PinnedVersion int            `json:"pinned_version,omitempty"`
	LatestVersion int            `json:"latest_version,omitempty"`
	Dir           string         `json:"dir,omitempty"`
	Current       string         `json:"current,omitempty"`
	Updated       string         `json:"updated,omitempty"`
	Overrides     map[string]any `json:"overrides,omitempty"`
	Versions      []VersionRef   `json:"versions"`
}

// PathFor returns the stored path of version n.
func (r *Record) PathFor(n int) (string, bool) {
	for _, v := range r.Versions {
		if v.Version == n {
			return v.Path, true
		}
	}
	return "", false
}

// HasVersion reports whether version n is recorded.
func (r *Record) HasVersion(n int) bool {
	_, ok := r.PathFor(n)
	return ok
}

// MaxVersion returns the highest recorded version, or 0.
func (r *Record) MaxVersion() int {
	highest := 0
	for _, v := range r.Versions {
		if v.Version > highest {
			highest = v.Version
		}
	}
	return highest
}

// VersionNumbers returns the recorded version numbers in ascending order.
func (r *Record) VersionNumbers() []int {
	out := make([]int, 0, len(r.Versions))
	for _, v := range r.Versions {
		out = append(out, v.Version)
	}
	sort.Ints(out)
	return out
}

// SetVersion records (or replaces) the path of version n.
func (r *Record) SetVersion(n int, p string) {
	p = path.Clean(p)
	for i := range r.Versions {
		if r.Versions[i].Version == n {
			r.Versions[i].Path = p
			return
		}
	}
	r.Versions = append(r.Versions, VersionRef{Version: n, Path: p})
	r.sortVersions()
}

func (r *Record) sortVersions() {
	sort.Slice(r.Versions, func(i, j int) bool { return r.Versions[i].Version < r.Versions[j].Version })
}

// normalize sorts versions and repairs pinned and latest so both point at a
// recorded version, or are 0 when there is none.
func (r *Record) normalize() {
	if r.Versions == nil {
		r.Versions = []VersionRef{}
	}
	r.sortVersions()
	highest := r.MaxVersion()
	if !r.HasVersion(r.LatestVersion) {
		r.LatestVersion = highest
	}
	if !r.HasVersion(r.PinnedVersion) {
		r.PinnedVersion = highest
	}
}

func (r Record) clone() Record {
	out := r
	out.Versions = append([]VersionRef{}, r.Versions...)
	if r.Overrides != nil {
		out.Overrides = make(map[string]any, len(r.Overrides))
		for k, v := range r.Overrides {
			out.Overrides[k] = v
		}
	}
	return out
}

// Registry is the on-disk index document: every known exercise.
type Registry struct {
	Exercises []Record `json:"exercises"`
}

// Find returns the record for id.
func (g *Registry) Find(id string) (*Record, bool) {
	for i := range g.Exercises {
		if g.Exercises[i].ID == id {
			return &g.Exercises[i], true
		}
	}
	return nil, false
}

// Upsert replaces the record with the same id or appends rec.
func (g *Registry) Upsert(rec Record) {
	rec.normalize()
	if existing, ok := g.Find(rec.ID); ok {
		*existing = rec
		return
	}
	g.Exercises = append(g.Exercises, rec)
}

// Remove drops id from the registry and reports whether it was present.
func (g *Registry) Remove(id string) bool {
	for i := range g.Exercises {
		if g.Exercises[i].ID == id {
			g.Exercises = append(g.Exercises[:i], g.Exercises[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the registry.
func (g *Registry) Clone() *Registry {
	if g == nil {
		return &Registry{Exercises: []Record{}}
	}
	out := &Registry{Exercises: make([]Record, len(g.Exercises))}
	for i, rec := range g.Exercises {
		out.Exercises[i] = rec.clone()
	}
	return out
}

func (g *Registry) sortByID() {
	sort.Slice(g.Exercises, func(i, j int) bool { return g.Exercises[i].ID < g.Exercises[j].ID })
}
