package store

import (
	"context"
	"time"
)

// Actions reported to event sinks.
const (
	ActionSave    = "save"
	ActionDelete  = "delete"
	ActionRebuild = "rebuild"
	ActionMigrate = "migrate"
)

// Event describes one completed mutation of the store.
type Event struct {
	Action     string
	ExerciseID string
	Version    int
	Title      string
	Type       string
	Detail     map[string]any
	At         time.Time
}

// EventSink receives events after a mutation has completed. Sink errors are
// logged and never fail the mutation.
type EventSink interface {
	Record(ctx context.Context, ev Event) error
}

func (s *Store) emit(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = s.now().UTC()
	}
	for _, sink := range s.sinks {
		if err := sink.Record(ctx, ev); err != nil {
			s.logger.Warn("event sink failed", "action", ev.Action, "id", ev.ExerciseID, "error", err)
		}
	}
}
