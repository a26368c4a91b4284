package audit

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const defaultPageSize = 20

type eventPage struct {
	Events        []EventView `json:"events"`
	NextPageToken string      `json:"nextPageToken,omitempty"`
	TotalSize     int         `json:"totalSize"`
}

// api serves the read side of the audit trail.
type api struct {
	store *Store
}

// listEvents answers GET /events. Query: exerciseId, action, pageSize, pageToken.
func (a api) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{ExerciseID: q.Get("exerciseId"), Action: q.Get("action")}

	records, next, total, err := a.store.List(filter, pageSizeParam(q), q.Get("pageToken"))
	switch {
	case errors.Is(err, ErrInvalidPageToken):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "listing audit events failed: "+err.Error())
		return
	}

	page := eventPage{Events: make([]EventView, 0, len(records)), NextPageToken: next, TotalSize: total}
	for _, rec := range records {
		page.Events = append(page.Events, rec.View())
	}
	writeJSON(w, http.StatusOK, page)
}

// getEvent answers GET /events/{eventId}.
func (a api) getEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "eventId")
	rec, err := a.store.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading audit event failed: "+err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "audit event "+strconv.Quote(id)+" not found")
		return
	}
	writeJSON(w, http.StatusOK, rec.View())
}

// pageSizeParam falls back to the default for anything but a positive integer.
func pageSizeParam(q url.Values) int {
	if n, err := strconv.Atoi(q.Get("pageSize")); err == nil && n > 0 {
		return n
	}
	return defaultPageSize
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
