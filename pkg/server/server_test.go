package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pp-content/exercise-store/pkg/audit"
	"github.com/pp-content/exercise-store/pkg/cache"
	"github.com/pp-content/exercise-store/pkg/exercise/media"
	"github.com/pp-content/exercise-store/pkg/exercise/store"
)

type testEnv struct {
	server  *Server
	router  chi.Router
	fs      afero.Fs
	mediaFs afero.Fs
}

func newTestEnv(t *testing.T, opts ...ServerOption) *testEnv {
	t.Helper()
	fs := afero.NewBasePathFs(afero.NewMemMapFs(), "/data")
	mediaFs := afero.NewBasePathFs(afero.NewMemMapFs(), "/public")
	mgr := media.NewManager(mediaFs)
	st := store.New(fs, store.WithMedia(mgr))

	opts = append([]ServerOption{WithMedia(mgr)}, opts...)
	srv := NewServer(st, opts...)
	require.NoError(t, srv.Init(context.Background()))
	return &testEnv{server: srv, router: srv.Routes(), fs: fs, mediaFs: mediaFs}
}

func (e *testEnv) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) saveJSON(t *testing.T, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return e.do(t, http.MethodPost, BasePath+"/exercises", bytes.NewReader(data), "application/json")
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/livez"} {
		rec := env.do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "alive", path)
	}

	rec := env.do(t, http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ready", body["status"])
}

func TestReadyBeforeInit(t *testing.T) {
	st := store.New(afero.NewMemMapFs())
	srv := NewServer(st)
	router := srv.Routes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "pending")

	require.NoError(t, srv.Init(context.Background()))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSaveAndRead(t *testing.T) {
	env := newTestEnv(t)

	rec := env.saveJSON(t, map[string]any{
		"type":  "TF",
		"title": "Ser y Estar",
		"items": `[{"q":"Soy de Madrid","answer":true}]`,
		"meta":  map[string]any{"level": "A1"},
		"notes": "kept as an extra field",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[store.SaveResult](t, rec)
	assert.Equal(t, 1, first.SavedVersion)
	assert.Equal(t, 1, first.PinnedVersion)
	assert.Equal(t, "tf/ser-y-estar/001.json", first.Path)

	rec = env.saveJSON(t, map[string]any{
		"id":    first.ID,
		"title": "Ser y Estar",
		"items": []any{map[string]any{"q": "Estoy cansado", "answer": true}},
		"pin":   "false",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[store.SaveResult](t, rec)
	assert.Equal(t, 2, second.SavedVersion)
	assert.Equal(t, 1, second.PinnedVersion)
	assert.Equal(t, []int{1, 2}, second.Versions)

	rec = env.do(t, http.MethodGet, BasePath+"/exercises/"+first.ID+"/preview", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	preview := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), preview["version"], "preview serves the pinned version")
	assert.Equal(t, "tf", preview["type"])
	assert.Equal(t, "kept as an extra field", preview["notes"])
	assert.Equal(t, map[string]any{"level": "A1"}, preview["meta"])

	rec = env.do(t, http.MethodGet, BasePath+"/exercises/"+first.ID+"/versions/2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	v2 := decode[map[string]any](t, rec)
	items := v2["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "Estoy cansado", items[0].(map[string]any)["q"])

	rec = env.do(t, http.MethodGet, BasePath+"/exercises/"+first.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	record := decode[store.Record](t, rec)
	assert.Equal(t, "Ser y Estar", record.Title)
	assert.Equal(t, 2, record.LatestVersion)

	rec = env.do(t, http.MethodGet, BasePath+"/exercises", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listResponse](t, rec)
	assert.Equal(t, 1, list.TotalSize)
	assert.Equal(t, first.ID, list.Exercises[0].ID)
}

func TestSaveErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name        string
		body        string
		contentType string
		wantStatus  int
	}{
		{"missing title", `{"type":"tf"}`, "application/json", http.StatusBadRequest},
		{"missing type for new exercise", `{"title":"Sin tipo"}`, "application/json", http.StatusBadRequest},
		{"version not a number", `{"type":"tf","title":"x","version":"abc"}`, "application/json", http.StatusBadRequest},
		{"negative version", `{"type":"tf","title":"x","version":-2}`, "application/json", http.StatusBadRequest},
		{"pin not a boolean", `{"type":"tf","title":"x","pin":"maybe"}`, "application/json", http.StatusBadRequest},
		{"unsafe id", `{"id":"../etc","type":"tf","title":"x"}`, "application/json", http.StatusBadRequest},
		{"broken json", `{"type":`, "application/json", http.StatusBadRequest},
		{"empty body", ``, "application/json", http.StatusBadRequest},
		{"form without title", "type=tf", "application/x-www-form-urlencoded", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, BasePath+"/exercises", strings.NewReader(tt.body), tt.contentType)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			body := decode[map[string]string](t, rec)
			assert.Equal(t, http.StatusText(tt.wantStatus), body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestSaveURLEncodedForm(t *testing.T) {
	env := newTestEnv(t)

	form := "type=fill&title=Completa&items=" + `[{"q":"a"}]` + "&overrides=not-json"
	rec := env.do(t, http.MethodPost, BasePath+"/exercises", strings.NewReader(form), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[store.SaveResult](t, rec)
	assert.Equal(t, "fill/completa/001.json", res.Path)
}

func TestReadErrors(t *testing.T) {
	env := newTestEnv(t)
	rec := env.saveJSON(t, map[string]any{"type": "tf", "title": "Uno"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[store.SaveResult](t, rec).ID

	tests := []struct {
		name       string
		target     string
		wantStatus int
	}{
		{"unknown exercise", "/exercises/nope", http.StatusNotFound},
		{"unknown exercise preview", "/exercises/nope/preview", http.StatusNotFound},
		{"unknown version", "/exercises/" + id + "/versions/9", http.StatusNotFound},
		{"zero version", "/exercises/" + id + "/versions/0", http.StatusBadRequest},
		{"non numeric version", "/exercises/" + id + "/versions/latest", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, BasePath+tt.target, nil, "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for field, content := range files {
		part, err := w.CreateFormFile(field, "clip.mp3")
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestMultipartSaveServesAndPurgesMedia(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t,
		map[string]string{
			"type":  "listen",
			"title": "Escucha",
			"items": `[{"q":"uno","media":{"audio":"__UPLOAD__","caption":"hola"}}]`,
			"media": `{"image":"__UPLOAD__"}`,
		},
		map[string]string{
			"media_audio[0]":       "ID3-audio-bytes",
			"exercise_media_image": "cover-bytes",
		},
	)
	rec := env.do(t, http.MethodPost, BasePath+"/exercises", body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[store.SaveResult](t, rec).ID

	rec = env.do(t, http.MethodGet, BasePath+"/exercises/"+id+"/preview", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	preview := decode[map[string]any](t, rec)
	itemMedia := preview["items"].([]any)[0].(map[string]any)["media"].(map[string]any)
	audio := itemMedia["audio"].(string)
	assert.True(t, strings.HasPrefix(audio, media.DefaultURLPrefix+"/"+id+"/item0_audio_"), audio)
	assert.Equal(t, "hola", itemMedia["caption"])
	cover := preview["media"].(map[string]any)["image"].(string)
	assert.True(t, strings.HasPrefix(cover, media.DefaultURLPrefix+"/"+id+"/exercise_image_"), cover)

	rec = env.do(t, http.MethodGet, audio, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ID3-audio-bytes", rec.Body.String())

	rec = env.do(t, http.MethodGet, media.DefaultURLPrefix+"/"+id+"/", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "directories are not listed")

	rec = env.do(t, http.MethodGet, media.DefaultURLPrefix+"/../../data/exercises.index.json", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodDelete, BasePath+"/exercises/"+id+"?purge_media=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[map[string]any](t, rec)
	assert.Equal(t, true, res["deleted_folder"])
	assert.Equal(t, true, res["deleted_media"])
	assert.NotContains(t, res, "failures")

	_, err := env.mediaFs.Stat(id)
	assert.Error(t, err, "media directory purged")

	rec = env.do(t, http.MethodGet, audio, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	rec := env.saveJSON(t, map[string]any{"type": "tf", "title": "Borrar"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[store.SaveResult](t, rec).ID

	rec = env.do(t, http.MethodDelete, BasePath+"/exercises/"+id, strings.NewReader(`{"purge_media":false}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[map[string]any](t, rec)
	assert.Equal(t, id, res["id"])
	assert.Equal(t, false, res["deleted_media"])

	exists, err := afero.DirExists(env.fs, "tf/borrar")
	require.NoError(t, err)
	assert.False(t, exists)

	rec = env.do(t, http.MethodDelete, BasePath+"/exercises/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, BasePath+"/exercises/x?purge_media=perhaps", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRebuildIndex(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, afero.WriteFile(env.fs, "flat1@v1.json", []byte(`{"id":"flat1","type":"mc","title":"Plana"}`), 0o644))

	rec := env.do(t, http.MethodPost, BasePath+"/index:rebuild", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), body["totalSize"])

	rec = env.do(t, http.MethodGet, BasePath+"/exercises/flat1", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResponseCaching(t *testing.T) {
	cfg := cache.DefaultCacheConfig()
	cfg.ListingTTL = time.Minute
	env := newTestEnv(t, WithCacheConfig(cfg))

	rec := env.do(t, http.MethodGet, BasePath+"/exercises", nil, "")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	rec = env.do(t, http.MethodGet, BasePath+"/exercises", nil, "")
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	rec = env.saveJSON(t, map[string]any{"type": "tf", "title": "Nuevo"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[store.SaveResult](t, rec).ID

	rec = env.do(t, http.MethodGet, BasePath+"/exercises", nil, "")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"), "save invalidates the listing")
	assert.Equal(t, 1, decode[listResponse](t, rec).TotalSize)

	preview := BasePath + "/exercises/" + id + "/preview"
	env.do(t, http.MethodGet, preview, nil, "")
	rec = env.do(t, http.MethodGet, preview, nil, "")
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	rec = env.saveJSON(t, map[string]any{"id": id, "title": "Nuevo"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, preview, nil, "")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, float64(2), decode[map[string]any](t, rec)["version"])

	env.do(t, http.MethodGet, preview, nil, "")
	env.server.InvalidateCaches()
	rec = env.do(t, http.MethodGet, preview, nil, "")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
}

func TestAuditRoutesMounted(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	auditStore := audit.NewStore(db)
	require.NoError(t, auditStore.AutoMigrate())

	fs := afero.NewMemMapFs()
	st := store.New(fs, store.WithEventSinks(audit.NewRecorder(auditStore)))
	srv := NewServer(st, WithAudit(auditStore, db))
	require.NoError(t, srv.Init(context.Background()))
	env := &testEnv{server: srv, router: srv.Routes(), fs: fs}

	rec := env.saveJSON(t, map[string]any{"type": "tf", "title": "Auditado"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[store.SaveResult](t, rec).ID

	rec = env.do(t, http.MethodGet, AuditBasePath+"/events?exerciseId="+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), body["totalSize"])
	event := body["events"].([]any)[0].(map[string]any)
	assert.Equal(t, store.ActionSave, event["action"])
	assert.NotEmpty(t, event["requestId"], "request id comes from the router middleware")

	rec = env.do(t, http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":{"status":"up"}`)
}

func TestParseUploadField(t *testing.T) {
	tests := []struct {
		field string
		want  media.Upload
		ok    bool
	}{
		{"media_image[]", media.Upload{Kind: media.KindImage, Item: -1}, true},
		{"media_audio", media.Upload{Kind: media.KindAudio, Item: -1}, true},
		{"media_video[3]", media.Upload{Kind: media.KindVideo, Item: 3}, true},
		{"exercise_media_image", media.Upload{Kind: media.KindImage, Item: -1, Exercise: true}, true},
		{"exercise_media_image[2]", media.Upload{}, false},
		{"media_caption[0]", media.Upload{}, false},
		{"media_pdf[]", media.Upload{}, false},
		{"avatar", media.Upload{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			got, ok := parseUploadField(tt.field)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildSaveRequest(t *testing.T) {
	srv := NewServer(store.New(afero.NewMemMapFs()))

	req, err := srv.buildSaveRequest(map[string]any{
		"id":           " ex1 ",
		"type":         "MC",
		"title":        "Elige",
		"version":      "4",
		"pin":          false,
		"items":        `{"not":"a list"}`,
		"meta":         "[1,2]",
		"settings":     `{"shuffle":true}`,
		"instructions": "Elige la respuesta correcta",
		"columns":      `["a","b"]`,
		"overrides":    map[string]any{"points": float64(2)},
	})
	require.NoError(t, err)

	assert.Equal(t, "ex1", req.ID)
	assert.Equal(t, "mc", req.Type)
	assert.Equal(t, 4, req.Version)
	require.NotNil(t, req.Pin)
	assert.False(t, *req.Pin)
	assert.Empty(t, req.Content.Items, "malformed items become an empty list")
	assert.Equal(t, map[string]any{}, req.Content.Meta)
	assert.Equal(t, map[string]any{"shuffle": true}, req.Content.Settings)
	assert.Equal(t, "Elige la respuesta correcta", req.Content.Instructions)
	assert.Equal(t, []any{"a", "b"}, req.Content.Columns)
	assert.Equal(t, map[string]any{"points": float64(2)}, req.Overrides)
	assert.Nil(t, req.Content.Media)

	req, err = srv.buildSaveRequest(map[string]any{"title": "x", "version": ""})
	require.NoError(t, err)
	assert.Zero(t, req.Version)
	assert.Nil(t, req.Pin)
	assert.Nil(t, req.Overrides, "absent overrides are inherited")
}
