// Package layout knows where exercise files live on disk. It covers the
// current type/slug layout as well as the naming rules of the two legacy
// layouts so the scanner and the garbage collector can find old files.
//
// All paths handled here are relative to the storage root; the afero.Fs
// passed in is expected to be rooted there.
package layout

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/pp-content/exercise-store/pkg/exercise/slug"
)

const (
	// IndexFile is the derived lookup index at the storage root.
	IndexFile = "exercises.index.json"
	// CurrentFile holds a copy of the most recently written version.
	CurrentFile = "current.json"
	// MetaFile holds per-exercise metadata.
	MetaFile = "meta.json"
	// VersionsDir is the generation-2 version subdirectory.
	VersionsDir = "versions"
	// DefaultTypeDir is used when the exercise type slugifies to nothing.
	DefaultTypeDir = "misc"

	// legacyIndexPrefix is how the oldest index recorded paths.
	legacyIndexPrefix = "data/exercises/"
)

var (
	versionFileRe = regexp.MustCompile(`^(\d{3,})\.json$`)
	legacyFileRe  = regexp.MustCompile(`^v(\d+)\.json$`)
	flatFileRe    = regexp.MustCompile(`^(.+)@v(\d+)\.json$`)
)

// VersionFilename returns the generation-3 file name for version n, e.g. 007.json.
func VersionFilename(n int) string {
	return fmt.Sprintf("%03d.json", n)
}

// ParseVersionFilename extracts the version from a generation-3 file name.
func ParseVersionFilename(name string) (int, bool) {
	return parsePositive(versionFileRe, name)
}

// LegacyVersionFilename returns the generation-2 file name for version n, e.g. v007.json.
func LegacyVersionFilename(n int) string {
	return fmt.Sprintf("v%03d.json", n)
}

// ParseLegacyVersionFilename extracts the version from a generation-2 file name.
func ParseLegacyVersionFilename(name string) (int, bool) {
	return parsePositive(legacyFileRe, name)
}

// FlatFilename returns the generation-1 file name <id>@v<n>.json.
func FlatFilename(id string, n int) string {
	return fmt.Sprintf("%s@v%d.json", id, n)
}

// ParseFlatFilename splits a generation-1 file name into id and version.
func ParseFlatFilename(name string) (string, int, bool) {
	m := flatFileRe.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n <= 0 {
		return "", 0, false
	}
	return m[1], n, true
}

func parsePositive(re *regexp.Regexp, name string) (int, bool) {
	m := re.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// NormalizePath converts a stored path to the root-relative, slash separated
// form used in the index. Paths recorded by the oldest index carry a
// data/exercises/ prefix which is dropped.
func NormalizePath(p string) string {
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, legacyIndexPrefix)
	return path.Clean(p)
}

// OSPath converts a root-relative index path back to a filesystem path.
func OSPath(p string) string {
	return filepath.FromSlash(NormalizePath(p))
}

// Resolver maps (type, title) to the generation-3 directory of an exercise.
type Resolver struct {
	fs afero.Fs

	mu     sync.Mutex
	claims map[string]string // dir -> id, until meta.json names the owner
}

// NewResolver creates a Resolver over the storage root filesystem.
func NewResolver(fs afero.Fs) *Resolver {
	return &Resolver{fs: fs, claims: make(map[string]string)}
}

// TypeDir returns the directory name used for an exercise type.
func TypeDir(typ string) string {
	s := slug.Make(typ)
	if s == slug.Fallback {
		return DefaultTypeDir
	}
	return s
}

// Dir returns the unsuffixed generation-3 directory for (type, title).
func (r *Resolver) Dir(typ, title string) string {
	return filepath.Join(TypeDir(typ), slug.Make(title))
}

// Ensure creates and returns the generation-3 directory for exercise id. When
// the slug directory already holds or is claimed by another exercise a
// numeric suffix is appended so two exercises never share a directory.
//
// The directory stays claimed for id until Release, which the caller invokes
// once meta.json in it names id.
func (r *Resolver) Ensure(id, typ, title string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir := slug.Unique(r.Dir(typ, title), func(candidate string) bool {
		return !r.available(candidate, id)
	})
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("layout: failed to create %s: %w", dir, err)
	}
	r.claims[dir] = id
	return dir, nil
}

// Claim reserves an existing dir for id. It fails when dir belongs to or is
// claimed by another exercise.
func (r *Resolver) Claim(dir, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.available(dir, id) {
		return false
	}
	r.claims[dir] = id
	return true
}

// Release drops the claim of id on dir.
func (r *Resolver) Release(dir, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claims[dir] == id {
		delete(r.claims, dir)
	}
}

// available reports whether id may write into dir. r.mu must be held.
func (r *Resolver) available(dir, id string) bool {
	if claimant, ok := r.claims[dir]; ok && claimant != id {
		return false
	}
	owner := OwnerID(r.fs, dir)
	return owner == "" || owner == id
}

// OwnerID returns the id recorded in dir's meta.json, falling back to
// current.json. It returns "" when neither names an owner.
func OwnerID(fs afero.Fs, dir string) string {
	var doc struct {
		ID string `json:"id"`
	}
	for _, name := range []string{MetaFile, CurrentFile} {
		doc.ID = ""
		if err := ReadJSON(fs, filepath.Join(dir, name), &doc); err == nil && doc.ID != "" {
			return doc.ID
		}
	}
	return ""
}

// Versions lists the generation-3 version numbers found directly in dir.
// Malformed names are ignored; a missing directory yields no versions.
func Versions(fs afero.Fs, dir string) ([]int, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("layout: failed to read %s: %w", dir, err)
	}
	var out []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := ParseVersionFilename(e.Name()); ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// NextVersion returns one more than the highest version file in dir.
func NextVersion(fs afero.Fs, dir string) (int, error) {
	versions, err := Versions(fs, dir)
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, v := range versions {
		if v > highest {
			highest = v
		}
	}
	return highest + 1, nil
}

// NextVersionFilename returns the zero-padded name of the next version file in dir.
func NextVersionFilename(fs afero.Fs, dir string) (string, error) {
	n, err := NextVersion(fs, dir)
	if err != nil {
		return "", err
	}
	return VersionFilename(n), nil
}
