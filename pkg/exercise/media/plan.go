package media

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

type slot struct {
	item     int
	exercise bool
}

// uploadQueue hands out uploads: files aimed at a specific slot first, then
// the untargeted files of the requested kind in arrival order.
type uploadQueue struct {
	targeted map[slot]map[Kind][]Upload
	shared   map[Kind][]Upload
}

func newUploadQueue(uploads []Upload) *uploadQueue {
	q := &uploadQueue{
		targeted: map[slot]map[Kind][]Upload{},
		shared:   map[Kind][]Upload{},
	}
	for _, u := range uploads {
		if !u.targeted() {
			q.shared[u.Kind] = append(q.shared[u.Kind], u)
			continue
		}
		s := slot{item: u.Item, exercise: u.Exercise}
		if u.Exercise {
			s.item = -1
		}
		if q.targeted[s] == nil {
			q.targeted[s] = map[Kind][]Upload{}
		}
		q.targeted[s][u.Kind] = append(q.targeted[s][u.Kind], u)
	}
	return q
}

func (q *uploadQueue) take(s slot, kind Kind) (Upload, bool) {
	if byKind := q.targeted[s]; len(byKind[kind]) > 0 {
		u := byKind[kind][0]
		byKind[kind] = byKind[kind][1:]
		return u, true
	}
	if len(q.shared[kind]) > 0 {
		u := q.shared[kind][0]
		q.shared[kind] = q.shared[kind][1:]
		return u, true
	}
	return Upload{}, false
}

func (q *uploadQueue) leftover() []Upload {
	var out []Upload
	for _, byKind := range q.targeted {
		for _, us := range byKind {
			out = append(out, us...)
		}
	}
	for _, us := range q.shared {
		out = append(out, us...)
	}
	return out
}

// Plan records the file changes made while resolving one save.
type Plan struct {
	mgr   *Manager
	id    string
	dir   string
	queue *uploadQueue

	written  []string
	removals []string
}

// Stored returns the root-relative paths of files written for this save.
func (p *Plan) Stored() []string {
	return slashPaths(p.written)
}

// Pending returns the root-relative paths queued for removal.
func (p *Plan) Pending() []string {
	return slashPaths(p.removals)
}

// Commit removes the files of fields deleted by this save. Call it only after
// the new version is durably written. Removal failures are aggregated.
func (p *Plan) Commit() ([]string, error) {
	if p == nil || len(p.removals) == 0 {
		return nil, nil
	}
	removed, err := p.mgr.remove(p.removals)
	if len(removed) > 0 {
		p.mgr.logger.Info("removed deleted media", "id", p.id, "files", removed)
	}
	return removed, err
}

// Rollback removes the files stored by this save.
func (p *Plan) Rollback() error {
	if p == nil || len(p.written) == 0 {
		return nil
	}
	_, err := p.mgr.remove(p.written)
	p.written = nil
	return err
}

// resolveBlock returns the media block to store for one slot. Fields are
// resolved per kind; keys that are not media kinds are carried through
// unchanged. A nil result means the slot has no media.
func (p *Plan) resolveBlock(s slot, next, prior map[string]any) (map[string]any, error) {
	out := map[string]any{}
	for k, v := range next {
		if _, known := ParseKind(k); !known {
			out[k] = v
		}
	}

	for _, kind := range Kinds {
		raw, present := next[string(kind)]
		if present && raw != nil {
			if _, isString := raw.(string); !isString {
				out[string(kind)] = raw
				continue
			}
		}

		ref := ParseRef(raw)
		if ref.State == StateUpload && !kind.Uploadable() {
			p.mgr.logger.Warn("upload marker on a text media field", "id", p.id, "kind", kind)
			ref = Ref{State: StateUnset}
		}

		switch ref.State {
		case StateKeep:
			out[string(kind)] = ref.Value

		case StateUpload:
			u, ok := p.queue.take(s, kind)
			if !ok {
				p.mgr.logger.Warn("upload marker without a file, keeping prior value", "id", p.id, "kind", kind, "item", s.item)
				p.backfill(out, kind, prior)
				continue
			}
			rel, err := p.mgr.store(p.dir, s, kind, u)
			if err != nil {
				return nil, err
			}
			p.written = append(p.written, rel)
			out[string(kind)] = p.mgr.ServedPath(p.id, filepath.Base(rel))

		case StateDelete:
			out[string(kind)] = nil
			if kind.Uploadable() {
				if err := p.queueRemoval(prior[string(kind)]); err != nil {
					return nil, err
				}
			}

		default:
			p.backfill(out, kind, prior)
		}
	}

	if len(out) == 0 && next == nil {
		return nil, nil
	}
	return out, nil
}

func (p *Plan) backfill(out map[string]any, kind Kind, prior map[string]any) {
	if v, ok := prior[string(kind)]; ok && v != nil {
		out[string(kind)] = v
	}
}

func (p *Plan) queueRemoval(priorValue any) error {
	served, ok := priorValue.(string)
	if !ok || served == "" {
		return nil
	}
	rel, stored, err := p.mgr.storedFile(served)
	if err != nil {
		return err
	}
	if !stored {
		return nil
	}
	if !strings.HasPrefix(rel, p.dir+string(filepath.Separator)) {
		p.mgr.logger.Warn("not removing media owned by another exercise", "id", p.id, "path", served)
		return nil
	}
	p.removals = append(p.removals, rel)
	return nil
}

func slashPaths(in []string) []string {
	out := make([]string, len(in))
	for i, p := range in {
		out[i] = filepath.ToSlash(p)
	}
	return out
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
