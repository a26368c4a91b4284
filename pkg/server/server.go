// Package server exposes the exercise store over HTTP.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/pp-content/exercise-store/pkg/audit"
	"github.com/pp-content/exercise-store/pkg/cache"
	"github.com/pp-content/exercise-store/pkg/exercise/media"
	"github.com/pp-content/exercise-store/pkg/exercise/store"
)

// BasePath is the prefix of the exercise API.
const BasePath = "/api/exercises/v1alpha1"

// AuditBasePath is the prefix of the audit API.
const AuditBasePath = "/api/audit/v1alpha1"

// DefaultMaxUploadBytes bounds the size of one save request.
const DefaultMaxUploadBytes int64 = 64 << 20

// Server routes HTTP requests to a store.Store.
type Server struct {
	store          *store.Store
	media          *media.Manager
	auditStore     *audit.Store
	auditDB        *gorm.DB
	cacheManager   *cache.CacheManager
	logger         *slog.Logger
	maxUploadBytes int64
	startedAt      time.Time

	mu              sync.RWMutex
	initialLoadDone bool
	initialLoadErr  error
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMedia serves the manager's files under its URL prefix.
func WithMedia(m *media.Manager) ServerOption {
	return func(s *Server) {
		s.media = m
	}
}

// WithAudit mounts the audit API. db is pinged by /readyz and may be nil.
func WithAudit(st *audit.Store, db *gorm.DB) ServerOption {
	return func(s *Server) {
		s.auditStore = st
		s.auditDB = db
	}
}

// WithCacheConfig sets up response caching for the listing and per-exercise
// reads. If the config is nil or disabled, no caching is applied.
func WithCacheConfig(cfg *cache.CacheConfig) ServerOption {
	return func(s *Server) {
		s.cacheManager = cache.NewCacheManager(cfg, BasePath+"/exercises")
	}
}

// WithMaxUploadBytes limits the body size of save requests.
func WithMaxUploadBytes(n int64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// NewServer creates a Server for st.
func NewServer(st *store.Store, opts ...ServerOption) *Server {
	s := &Server{
		store:          st,
		logger:         slog.Default(),
		maxUploadBytes: DefaultMaxUploadBytes,
		startedAt:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	return s
}

// Init loads the index so the first request does not pay for a full scan.
// /readyz reports not ready until Init has succeeded.
func (s *Server) Init(ctx context.Context) error {
	_, err := s.store.Index().Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialLoadErr = err
	s.initialLoadDone = err == nil
	if err != nil {
		s.logger.Error("initial index load failed", "error", err)
		return err
	}
	s.logger.Info("index loaded")
	return nil
}

// InvalidateCaches drops every cached response, e.g. after the storage root
// changed on disk.
func (s *Server) InvalidateCaches() {
	s.cacheManager.InvalidateAll()
}

// Routes creates the HTTP router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route(BasePath, func(r chi.Router) {
		listing := s.cacheManager.ListingMiddleware()
		byID := s.cacheManager.ExerciseMiddleware()

		r.With(listing).Get("/exercises", s.listHandler)
		r.Post("/exercises", s.saveHandler)
		r.With(byID).Get("/exercises/{id}", s.getHandler)
		r.With(byID).Get("/exercises/{id}/preview", s.previewHandler)
		r.With(byID).Get("/exercises/{id}/versions/{version}", s.versionHandler)
		r.Delete("/exercises/{id}", s.deleteHandler)
		r.Post("/index:rebuild", s.rebuildHandler)
	})
	if s.cacheManager != nil {
		s.logger.Info("exercise response caching enabled")
	}

	if s.media != nil {
		prefix := s.media.URLPrefix()
		r.Handle(prefix+"/*", http.StripPrefix(prefix, mediaFileServer(s.media)))
		s.logger.Info("serving media", "prefix", prefix)
	}

	if s.auditStore != nil {
		r.Mount(AuditBasePath, audit.Router(s.auditStore))
		s.logger.Info("mounted audit API routes")
	}

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)

	return r
}

// healthHandler returns the liveness status of the server.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler reports whether the index has been loaded and the audit
// database, when configured, answers.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	initialLoadDone := s.initialLoadDone
	initialLoadErr := s.initialLoadErr
	s.mu.RUnlock()

	allReady := true

	indexStatus := map[string]string{"status": "complete"}
	if !initialLoadDone {
		indexStatus["status"] = "pending"
		if initialLoadErr != nil {
			indexStatus["status"] = "failed"
			indexStatus["error"] = initialLoadErr.Error()
		}
		allReady = false
	}

	dbStatus := map[string]string{"status": "up"}
	if s.auditDB != nil {
		sqlDB, err := s.auditDB.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			dbStatus["status"] = "down"
			dbStatus["error"] = err.Error()
			allReady = false
		}
	} else {
		dbStatus["status"] = "not_configured"
	}

	status, code := "ready", http.StatusOK
	if !allReady {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"components": map[string]any{
			"index":    indexStatus,
			"database": dbStatus,
		},
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(data)
}
