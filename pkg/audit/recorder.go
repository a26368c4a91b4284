package audit

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/pp-content/exercise-store/pkg/exercise/store"
)

// Recorder turns store events into audit records. It is registered on the
// exercise store as an event sink.
type Recorder struct {
	store *Store
	now   func() time.Time
}

var _ store.EventSink = (*Recorder)(nil)

// NewRecorder creates a Recorder writing to s.
func NewRecorder(s *Store) *Recorder {
	return &Recorder{store: s, now: time.Now}
}

// Record appends ev to the audit trail. The request id set by chi's
// RequestID middleware is attached when ctx carries one.
func (r *Recorder) Record(ctx context.Context, ev store.Event) error {
	at := ev.At
	if at.IsZero() {
		at = r.now()
	}
	var detail JSONAny
	if len(ev.Detail) > 0 {
		detail = JSONAny(ev.Detail)
	}
	return r.store.Append(&EventRecord{
		ID:         uuid.New().String(),
		Action:     ev.Action,
		ExerciseID: ev.ExerciseID,
		Version:    ev.Version,
		Title:      ev.Title,
		Type:       ev.Type,
		RequestID:  middleware.GetReqID(ctx),
		Detail:     detail,
		CreatedAt:  at.UTC(),
	})
}
