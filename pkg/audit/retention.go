package audit

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetentionInterval is how often the worker purges expired events.
const DefaultRetentionInterval = 24 * time.Hour

// RetentionWorker purges audit events older than the retention window.
type RetentionWorker struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// RetentionOption configures a RetentionWorker.
type RetentionOption func(*RetentionWorker)

// WithRetentionInterval sets the time between purges.
func WithRetentionInterval(d time.Duration) RetentionOption {
	return func(w *RetentionWorker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewRetentionWorker keeps retentionDays days of events. A worker with no
// store or a non-positive retention does nothing.
func NewRetentionWorker(store *Store, retentionDays int, logger *slog.Logger, opts ...RetentionOption) *RetentionWorker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &RetentionWorker{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  DefaultRetentionInterval,
		now:       time.Now,
		logger:    logger.With("component", "audit-retention"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *RetentionWorker) enabled() bool {
	return w.store != nil && w.retention > 0
}

// Cutoff is the creation time before which events are purged.
func (w *RetentionWorker) Cutoff() time.Time {
	return w.now().Add(-w.retention)
}

// Purge deletes expired events once and returns how many went.
func (w *RetentionWorker) Purge(ctx context.Context) (int64, error) {
	if !w.enabled() {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cutoff := w.Cutoff()
	deleted, err := w.store.DeleteOlderThan(cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		w.logger.Info("purged expired audit events",
			"deleted", deleted,
			"cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}

// Run purges at startup and then every interval until ctx is done.
func (w *RetentionWorker) Run(ctx context.Context) {
	if !w.enabled() {
		w.logger.Info("audit retention disabled",
			"hasStore", w.store != nil,
			"retentionDays", int(w.retention.Hours()/24))
		return
	}

	w.logger.Info("audit retention started",
		"retentionDays", int(w.retention.Hours()/24),
		"interval", w.interval.String())

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("audit retention stopped")
			return
		case <-timer.C:
			if _, err := w.Purge(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("audit retention purge failed", "error", err)
			}
			timer.Reset(w.interval)
		}
	}
}
