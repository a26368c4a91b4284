package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pp-content/exercise-store/pkg/exercise/store"
)

type listResponse struct {
	Events        []EventView `json:"events"`
	NextPageToken string      `json:"nextPageToken"`
	TotalSize     int         `json:"totalSize"`
}

func TestRouter_ListEvents(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().Add(-time.Hour).UTC()
	seedEvents(t, s, "ex1", store.ActionSave, 3, base)
	seedEvents(t, s, "ex2", store.ActionSave, 1, base)
	router := Router(s)

	tests := []struct {
		name      string
		query     string
		wantTotal int
		wantLen   int
		wantNext  bool
	}{
		{"all", "", 4, 4, false},
		{"by exercise", "?exerciseId=ex1", 3, 3, false},
		{"by action", "?action=delete", 0, 0, false},
		{"paged", "?exerciseId=ex1&pageSize=2", 3, 2, true},
		{"bad page size ignored", "?pageSize=zero", 4, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events"+tt.query, nil))
			require.Equal(t, http.StatusOK, rec.Code)

			var body listResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantTotal, body.TotalSize)
			assert.Len(t, body.Events, tt.wantLen)
			assert.Equal(t, tt.wantNext, body.NextPageToken != "")
		})
	}
}

func TestRouter_ListEventsBadToken(t *testing.T) {
	rec := httptest.NewRecorder()
	Router(newTestStore(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?pageToken=nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_GetEvent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(&EventRecord{
		ID: "evt-001", Action: store.ActionSave, ExerciseID: "ex1", Version: 2,
		Detail: JSONAny{"pinned_version": 2}, CreatedAt: time.Now(),
	}))
	router := Router(s)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/evt-001", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "evt-001", body["id"])
	assert.Equal(t, "ex1", body["exerciseId"])
	assert.Equal(t, float64(2), body["version"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventRecordView(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	resp := EventRecord{
		ID:         "evt-001",
		Action:     store.ActionMigrate,
		RequestID:  "req-456",
		Detail:     JSONAny{"migrated": 3},
		CreatedAt:  at,
		ExerciseID: "",
	}.View()

	assert.Equal(t, "evt-001", resp.ID)
	assert.Equal(t, "req-456", resp.RequestID)
	assert.Equal(t, "2025-03-14T09:26:53Z", resp.CreatedAt)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "exerciseId", "empty exercise id is omitted")
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusNotFound, "event not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "event not found", body["error"])
}
