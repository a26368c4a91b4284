package server

import (
	"errors"
	"net/http"

	"github.com/pp-content/exercise-store/pkg/exercise/media"
	"github.com/pp-content/exercise-store/pkg/exercise/store"
)

// statusFor maps a store error to an HTTP status.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrInvalidVersion):
		return http.StatusBadRequest
	case errors.Is(err, media.ErrPathEscape):
		return http.StatusForbidden
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}

// writeStoreError writes err with the status it maps to. Server-side
// failures are logged; the client gets a generic message for them.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "error", err, "path", r.URL.Path)
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}
