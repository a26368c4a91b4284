package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pp-content/exercise-store/pkg/exercise/store"
)

// newTestStore creates an in-memory SQLite audit store.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := NewStore(db)
	require.NoError(t, s.AutoMigrate())
	return s
}

func seedEvents(t *testing.T, s *Store, exerciseID, action string, n int, base time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.Append(&EventRecord{
			ID:         uuid.New().String(),
			Action:     action,
			ExerciseID: exerciseID,
			Version:    i + 1,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func TestStore_AppendAndGet(t *testing.T) {
	s := newTestStore(t)

	rec := &EventRecord{
		ID:         uuid.New().String(),
		Action:     store.ActionSave,
		ExerciseID: "ex1",
		Version:    3,
		Title:      "Ser y Estar",
		Type:       "tf",
		Detail:     JSONAny{"path": "tf/ser-y-estar/003.json"},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.Append(rec))

	got, err := s.GetByID(rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ex1", got.ExerciseID)
	assert.Equal(t, 3, got.Version)
	assert.Equal(t, "tf/ser-y-estar/003.json", got.Detail["path"])

	missing, err := s.GetByID("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Error(t, s.Append(rec), "ids are unique")
}

func TestStore_ListFilterAndPaging(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().Add(-time.Hour).UTC()
	seedEvents(t, s, "ex1", store.ActionSave, 5, base)
	seedEvents(t, s, "ex2", store.ActionSave, 2, base)
	seedEvents(t, s, "ex1", store.ActionDelete, 1, base.Add(10*time.Minute))

	all, _, total, err := s.List(ListFilter{}, 100, "")
	require.NoError(t, err)
	assert.Equal(t, 8, total)
	assert.Len(t, all, 8)
	assert.Equal(t, store.ActionDelete, all[0].Action, "newest first")

	saves, _, total, err := s.List(ListFilter{ExerciseID: "ex1", Action: store.ActionSave}, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, saves, 5)

	page1, next, total, err := s.List(ListFilter{ExerciseID: "ex1"}, 4, "")
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Len(t, page1, 4)
	require.NotEmpty(t, next)

	page2, next, _, err := s.List(ListFilter{ExerciseID: "ex1"}, 4, next)
	require.NoError(t, err)
	assert.Len(t, page2, 2)
	assert.Empty(t, next)

	_, _, _, err = s.List(ListFilter{}, 10, "yesterday")
	assert.Error(t, err)
}

func TestStore_DeleteOlderThan(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	seedEvents(t, s, "old", store.ActionSave, 3, now.Add(-48*time.Hour))
	seedEvents(t, s, "new", store.ActionSave, 2, now.Add(-time.Hour))

	deleted, err := s.DeleteOlderThan(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	_, _, total, err := s.List(ListFilter{}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestRecorder(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s)
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	err := r.Record(ctx, store.Event{
		Action:     store.ActionDelete,
		ExerciseID: "ex9",
		Detail:     map[string]any{"deleted_folder": true},
		At:         at,
	})
	require.NoError(t, err)

	r.now = func() time.Time { return at.Add(time.Minute) }
	require.NoError(t, r.Record(context.Background(), store.Event{Action: store.ActionRebuild}))

	events, _, total, err := s.List(ListFilter{}, 10, "")
	require.NoError(t, err)
	require.Equal(t, 2, total)

	rebuild, del := events[0], events[1]
	assert.Equal(t, store.ActionRebuild, rebuild.Action)
	assert.Empty(t, rebuild.RequestID)
	assert.Nil(t, rebuild.Detail)

	assert.Equal(t, "ex9", del.ExerciseID)
	assert.Equal(t, "req-42", del.RequestID)
	assert.Equal(t, true, del.Detail["deleted_folder"])
	assert.True(t, at.Equal(del.CreatedAt), fmt.Sprintf("created at %s", del.CreatedAt))
}

func TestRecorderAsStoreSink(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ex, err := store.NewOs(t.TempDir(), store.WithEventSinks(NewRecorder(s)))
	require.NoError(t, err)

	res, err := ex.Save(ctx, store.SaveRequest{Type: "mc", Title: "Audited"})
	require.NoError(t, err)
	_, err = ex.Delete(ctx, res.ID, store.DeleteOptions{})
	require.NoError(t, err)

	events, _, total, err := s.List(ListFilter{ExerciseID: res.ID}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	actions := []string{events[0].Action, events[1].Action}
	assert.ElementsMatch(t, []string{store.ActionSave, store.ActionDelete}, actions)
}

func TestOpenDB(t *testing.T) {
	cfg := &AuditConfig{Driver: DriverSQLite, DSN: ":memory:"}
	db, err := OpenDB(cfg)
	require.NoError(t, err)
	require.NoError(t, NewStore(db).Append(&EventRecord{ID: "a", Action: "save", CreatedAt: time.Now()}))

	_, err = OpenDB(&AuditConfig{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported audit driver")
}
