// Package journal records every store mutation as a commit in a git
// repository rooted at the storage directory, giving content editors a
// browsable history independent of the numbered versions.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/pp-content/exercise-store/pkg/exercise/layout"
	"github.com/pp-content/exercise-store/pkg/exercise/store"
)

const (
	DefaultAuthorName  = "exercise-store"
	DefaultAuthorEmail = "exercise-store@localhost"
	defaultBranch      = "main"
)

// Paths kept out of the history: the index is derived and temp files are
// transient.
var ignored = []byte(layout.IndexFile + "\n*.tmp\n")

// Journal commits the storage root after each store event.
type Journal struct {
	root   string
	repo   *gogit.Repository
	name   string
	email  string
	now    func() time.Time
	logger *slog.Logger
	mu     sync.Mutex
}

var _ store.EventSink = (*Journal)(nil)

// Option configures a Journal.
type Option func(*Journal)

// WithAuthor sets the commit author.
func WithAuthor(name, email string) Option {
	return func(j *Journal) {
		if name != "" {
			j.name = name
		}
		if email != "" {
			j.email = email
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// Open opens the repository at root, initializing it on first use.
func Open(root string, opts ...Option) (*Journal, error) {
	j := &Journal{
		root:   root,
		name:   DefaultAuthorName,
		email:  DefaultAuthorEmail,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With("component", "journal")

	repo, err := gogit.PlainOpen(root)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		repo, err = j.initRepo()
	}
	if err != nil {
		return nil, fmt.Errorf("journal: failed to open %s: %w", root, err)
	}
	j.repo = repo
	return j, nil
}

func (j *Journal) initRepo() (*gogit.Repository, error) {
	repo, err := gogit.PlainInitWithOptions(j.root, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(defaultBranch),
		},
	})
	if err != nil {
		return nil, err
	}
	gitignore := filepath.Join(j.root, ".gitignore")
	if _, err := os.Stat(gitignore); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(gitignore, ignored, 0o644); err != nil {
			return nil, err
		}
	}
	j.logger.Info("initialized journal repository", "root", j.root)
	return repo, nil
}

// Record commits whatever the event changed under the storage root.
func (j *Journal) Record(_ context.Context, ev store.Event) error {
	_, err := j.Commit(message(ev))
	return err
}

// Commit stages every change under the root and commits it. It returns the
// zero hash when there was nothing to commit.
func (j *Journal) Commit(msg string) (plumbing.Hash, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	wt, err := j.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("journal: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("journal: status: %w", err)
	}
	if status.IsClean() {
		return plumbing.ZeroHash, nil
	}

	paths := make([]string, 0, len(status))
	for p := range status {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if status[p].Worktree == gogit.Deleted {
			_, err = wt.Remove(p)
		} else {
			_, err = wt.Add(p)
		}
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("journal: failed to stage %s: %w", p, err)
		}
	}

	hash, err := wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  j.name,
			Email: j.email,
			When:  j.now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("journal: commit: %w", err)
	}
	j.logger.Debug("committed", "hash", hash.String(), "files", len(paths))
	return hash, nil
}

// History returns the commit messages reachable from HEAD, newest first.
func (j *Journal) History(limit int) ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	head, err := j.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	iter, err := j.repo.Log(&gogit.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("journal: log: %w", err)
	}
	defer iter.Close()

	var out []string
	for limit <= 0 || len(out) < limit {
		c, err := iter.Next()
		if err != nil {
			break
		}
		out = append(out, c.Message)
	}
	return out, nil
}

func message(ev store.Event) string {
	switch ev.Action {
	case store.ActionSave:
		return fmt.Sprintf("save %s v%d: %s", ev.ExerciseID, ev.Version, ev.Title)
	case store.ActionDelete:
		return fmt.Sprintf("delete %s", ev.ExerciseID)
	default:
		return ev.Action
	}
}
