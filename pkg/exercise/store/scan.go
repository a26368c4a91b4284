package store

import (
	"context"
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Scanner rebuilds the registry from the files on disk. It knows every
// layout generation and reconciles exercises present in more than one.
type Scanner struct {
	readers []layoutReader
	logger  *slog.Logger
}

// NewScanner creates a Scanner whose readers are ordered newest layout first.
func NewScanner(fs afero.Fs, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	base := readerBase{fs: fs, logger: logger.With("component", "scanner")}
	return &Scanner{
		readers: []layoutReader{
			typeSlugReader{base},
			perIDReader{base},
			flatReader{base},
		},
		logger: logger,
	}
}

// Scan walks every layout and returns the reconciled registry. prior, when
// non-nil, supplies values that only ever lived in an older index, such as
// overrides and the pin of flat-layout exercises.
func (s *Scanner) Scan(ctx context.Context, prior *Registry) (*Registry, error) {
	results := make([][]partial, len(s.readers))

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range s.readers {
		g.Go(func() error {
			parts, err := r.Read(gctx)
			if err != nil {
				return fmt.Errorf("store: scan %s layout: %w", r.Generation(), err)
			}
			results[i] = parts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var ordered []partial
	for _, parts := range results {
		ordered = append(ordered, parts...)
	}
	reg := reconcile(ordered, prior)
	s.logger.Info("exercise scan complete", "exercises", len(reg.Exercises))
	return reg, nil
}

type merged struct {
	rec     Record
	claimed mapset.Set[int]
	pinned  int
	latest  int
}

// reconcile merges partial records in the order given, so earlier (newer)
// layouts win: scalar fields come from the first layout that supplies them
// and a version number present in several layouts keeps the first path.
func reconcile(parts []partial, prior *Registry) *Registry {
	byID := map[string]*merged{}
	var order []string

	for _, p := range parts {
		m, ok := byID[p.ID]
		if !ok {
			m = &merged{rec: Record{ID: p.ID}, claimed: mapset.NewThreadUnsafeSet[int]()}
			byID[p.ID] = m
			order = append(order, p.ID)
		}
		fillString(&m.rec.Type, p.Type)
		fillString(&m.rec.Title, p.Title)
		fillString(&m.rec.Current, p.Current)
		fillString(&m.rec.Updated, p.Updated)
		if p.Generation == TypeSlug {
			fillString(&m.rec.Dir, p.Dir)
		}
		if m.rec.Overrides == nil && len(p.Overrides) > 0 {
			m.rec.Overrides = p.Overrides
		}
		if m.pinned == 0 && p.Versions[p.Pinned] != "" {
			m.pinned = p.Pinned
		}
		if m.latest == 0 && p.Versions[p.Latest] != "" {
			m.latest = p.Latest
		}
		for _, n := range sortedDesc(p.Versions) {
			if m.claimed.Add(n) {
				m.rec.Versions = append(m.rec.Versions, VersionRef{Version: n, Path: p.Versions[n]})
			}
		}
	}

	reg := &Registry{Exercises: make([]Record, 0, len(order))}
	for _, id := range order {
		m := byID[id]
		if len(m.rec.Versions) == 0 && m.rec.Current == "" {
			continue
		}
		m.rec.PinnedVersion = m.pinned
		m.rec.LatestVersion = m.latest
		if prior != nil {
			if old, ok := prior.Find(id); ok {
				if m.rec.Overrides == nil && len(old.Overrides) > 0 {
					m.rec.Overrides = old.Overrides
				}
				if m.rec.PinnedVersion == 0 && m.claimed.Contains(old.PinnedVersion) {
					m.rec.PinnedVersion = old.PinnedVersion
				}
			}
		}
		m.rec.normalize()
		reg.Exercises = append(reg.Exercises, m.rec)
	}
	reg.sortByID()
	return reg
}

func fillString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
