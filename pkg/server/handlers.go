package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pp-content/exercise-store/pkg/exercise/store"
)

type listResponse struct {
	Exercises []store.Record `json:"exercises"`
	TotalSize int            `json:"totalSize"`
}

type deleteResponse struct {
	*store.DeleteResult
	Failures []string `json:"failures,omitempty"`
}

type deleteBody struct {
	PurgeMedia bool `json:"purge_media"`
}

// listHandler handles GET /exercises.
func (s *Server) listHandler(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(r.Context())
	if err != nil {
		s.writeStoreError(w, r, "list exercises", err)
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	writeJSON(w, http.StatusOK, listResponse{Exercises: records, TotalSize: len(records)})
}

// getHandler handles GET /exercises/{id}.
func (s *Server) getHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, "get exercise", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// previewHandler handles GET /exercises/{id}/preview: the pinned version,
// else the latest, else the current snapshot.
func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := s.store.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, "resolve exercise", err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// versionHandler handles GET /exercises/{id}/versions/{version}.
func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version <= 0 {
		writeError(w, http.StatusBadRequest, store.ErrInvalidVersion.Error())
		return
	}
	payload, err := s.store.ResolveVersion(r.Context(), chi.URLParam(r, "id"), version)
	if err != nil {
		s.writeStoreError(w, r, "resolve exercise version", err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// saveHandler handles POST /exercises.
func (s *Server) saveHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	req, cleanup, err := s.decodeSaveRequest(r)
	if err != nil {
		s.writeStoreError(w, r, "decode save request", err)
		return
	}
	defer cleanup()

	res, err := s.store.Save(r.Context(), req)
	if err != nil {
		s.writeStoreError(w, r, "save exercise", err)
		return
	}
	s.cacheManager.InvalidateExercise(res.ID)

	status := http.StatusOK
	if req.ID == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// deleteHandler handles DELETE /exercises/{id}. Media is purged when
// purge_media is set in the query or the JSON body.
func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	purge, err := purgeMedia(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.store.Delete(r.Context(), id, store.DeleteOptions{PurgeMedia: purge})
	if err != nil {
		s.writeStoreError(w, r, "delete exercise", err)
		return
	}
	s.cacheManager.InvalidateExercise(id)

	failures := res.FailureMessages()
	if len(failures) > 0 {
		s.logger.Warn("exercise deleted with failures", "id", id, "failures", len(failures))
	}
	writeJSON(w, http.StatusOK, deleteResponse{DeleteResult: res, Failures: failures})
}

func purgeMedia(r *http.Request) (bool, error) {
	if v := r.URL.Query().Get("purge_media"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("purge_media must be a boolean")
		}
		return b, nil
	}
	if r.Body == nil || r.ContentLength == 0 {
		return false, nil
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return false, nil
	}
	var body deleteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("invalid request body: %v", err)
	}
	return body.PurgeMedia, nil
}

// rebuildHandler handles POST /index:rebuild.
func (s *Server) rebuildHandler(w http.ResponseWriter, r *http.Request) {
	reg, err := s.store.RebuildIndex(r.Context())
	if err != nil {
		s.writeStoreError(w, r, "rebuild index", err)
		return
	}
	s.cacheManager.InvalidateAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "rebuilt",
		"totalSize": len(reg.Exercises),
	})
}
