package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/pp-content/exercise-store/pkg/exercise"
)

// DefaultURLPrefix is the served path under which media files are exposed.
const DefaultURLPrefix = "/media/exercises"

// ErrPathEscape is returned when a media path resolves outside the media root.
var ErrPathEscape = errors.New("media path escapes the media root")

var extRe = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// Upload is one file received with a save request.
type Upload struct {
	Kind Kind
	// Item is the index of the target item, or -1 for the shared queue of Kind.
	Item int
	// Exercise targets the exercise-level media block instead of an item.
	Exercise    bool
	Filename    string
	ContentType string
	Body        io.Reader
}

func (u Upload) targeted() bool {
	return u.Exercise || u.Item >= 0
}

// Manager stores uploaded files under <root>/<exercise id>/ and rewrites
// media references in payloads.
type Manager struct {
	fs        afero.Fs
	urlPrefix string
	logger    *slog.Logger
	nonce     func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithURLPrefix sets the served path prefix written into payloads. An empty
// prefix keeps DefaultURLPrefix.
func WithURLPrefix(prefix string) Option {
	return func(m *Manager) {
		if p := strings.Trim(prefix, "/"); p != "" {
			m.urlPrefix = "/" + p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager over fs, which must be rooted at the media
// directory.
func NewManager(fs afero.Fs, opts ...Option) *Manager {
	m := &Manager{
		fs:        fs,
		urlPrefix: DefaultURLPrefix,
		logger:    slog.Default(),
		nonce: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "media")
	return m
}

// NewOsManager creates a Manager for the media directory root on the local
// disk. Every access is confined to root.
func NewOsManager(root string, opts ...Option) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("media: invalid root %q: %w", root, err)
	}
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("media: failed to create root %s: %w", abs, err)
	}
	return NewManager(afero.NewBasePathFs(osFs, abs), opts...), nil
}

// FS returns the sandboxed media filesystem.
func (m *Manager) FS() afero.Fs {
	return m.fs
}

// URLPrefix returns the served path prefix.
func (m *Manager) URLPrefix() string {
	return m.urlPrefix
}

// ServedPath returns the public path of a file stored for exercise id.
func (m *Manager) ServedPath(id, name string) string {
	return path.Join(m.urlPrefix, id, name)
}

// Sandbox cleans rel and verifies it names a path strictly inside the media
// root. Absolute paths and paths climbing out through ".." are rejected.
func Sandbox(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	switch {
	case filepath.IsAbs(clean), filepath.VolumeName(clean) != "", strings.HasPrefix(clean, string(filepath.Separator)):
		return "", fmt.Errorf("%q: %w", rel, ErrPathEscape)
	case clean == "." || clean == "..":
		return "", fmt.Errorf("%q: %w", rel, ErrPathEscape)
	case strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return "", fmt.Errorf("%q: %w", rel, ErrPathEscape)
	}
	return clean, nil
}

// storedFile maps a served path back to a root-relative file path. ok is
// false for values that are not served from this manager's prefix, such as
// external URLs.
func (m *Manager) storedFile(served string) (rel string, ok bool, err error) {
	prefix := m.urlPrefix + "/"
	if !strings.HasPrefix(served, prefix) {
		return "", false, nil
	}
	rel, err = Sandbox(strings.TrimPrefix(served, prefix))
	if err != nil {
		return "", false, err
	}
	return rel, true, nil
}

func (m *Manager) exerciseDir(id string) (string, error) {
	dir, err := Sandbox(id)
	if err != nil {
		return "", err
	}
	if strings.ContainsRune(dir, filepath.Separator) {
		return "", fmt.Errorf("exercise id %q: %w", id, ErrPathEscape)
	}
	return dir, nil
}

// Plan resolves every media field of next against prior, storing uploads as
// it goes. next is modified in place. The returned plan must be committed
// after the version is written, or rolled back if the write fails.
func (m *Manager) Plan(ctx context.Context, id string, prior, next *exercise.Payload, uploads []Upload) (*Plan, error) {
	dir, err := m.exerciseDir(id)
	if err != nil {
		return nil, err
	}
	p := &Plan{mgr: m, id: id, dir: dir, queue: newUploadQueue(uploads)}

	for i, item := range next.Items {
		if err := ctx.Err(); err != nil {
			_ = p.Rollback()
			return nil, err
		}
		var priorBlock map[string]any
		if prior != nil && i < len(prior.Items) {
			priorBlock = prior.Items[i].Media()
		}
		block, err := p.resolveBlock(slot{item: i}, item.Media(), priorBlock)
		if err != nil {
			_ = p.Rollback()
			return nil, err
		}
		if block != nil {
			item.SetMedia(block)
		}
	}

	var priorExercise map[string]any
	if prior != nil {
		priorExercise = prior.Media
	}
	block, err := p.resolveBlock(slot{item: -1, exercise: true}, next.Media, priorExercise)
	if err != nil {
		_ = p.Rollback()
		return nil, err
	}
	next.Media = block

	for _, u := range p.queue.leftover() {
		m.logger.Warn("upload not referenced by any media field", "id", id, "kind", u.Kind, "filename", u.Filename)
	}
	return p, nil
}

// Purge removes every stored file of exercise id. It reports whether the
// directory existed.
func (m *Manager) Purge(_ context.Context, id string) (bool, error) {
	dir, err := m.exerciseDir(id)
	if err != nil {
		return false, err
	}
	if _, err := m.fs.Stat(dir); err != nil {
		if isNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("media: failed to stat %s: %w", dir, err)
	}
	if err := m.fs.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("media: failed to purge %s: %w", dir, err)
	}
	m.logger.Info("purged exercise media", "id", id)
	return true, nil
}

func (m *Manager) store(dir string, s slot, kind Kind, u Upload) (string, error) {
	prefix := fmt.Sprintf("item%d", s.item)
	if s.exercise {
		prefix = "exercise"
	}
	name := fmt.Sprintf("%s_%s_%s%s", prefix, kind, m.nonce(), extension(u))
	rel := filepath.Join(dir, name)

	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("media: failed to create %s: %w", dir, err)
	}
	body := u.Body
	if body == nil {
		body = strings.NewReader("")
	}
	if err := afero.WriteReader(m.fs, rel, body); err != nil {
		_ = m.fs.Remove(rel)
		return "", fmt.Errorf("media: failed to store %s: %w", name, err)
	}
	return rel, nil
}

func extension(u Upload) string {
	ext := strings.ToLower(filepath.Ext(u.Filename))
	if extRe.MatchString(ext) {
		return ext
	}
	if u.ContentType != "" {
		if exts, err := mime.ExtensionsByType(u.ContentType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	return ".bin"
}

func (m *Manager) remove(files []string) ([]string, error) {
	var removed []string
	var result *multierror.Error
	for _, rel := range files {
		if err := m.fs.Remove(rel); err != nil {
			if isNotExist(err) {
				continue
			}
			result = multierror.Append(result, fmt.Errorf("media: failed to remove %s: %w", rel, err))
			continue
		}
		removed = append(removed, filepath.ToSlash(rel))
	}
	return removed, result.ErrorOrNil()
}
