package cache

import (
	"net/http"
	"strings"
)

// CacheManager holds the response caches of the exercise API: one for the
// listing and one for per-exercise reads, each with its own TTL. It provides
// targeted invalidation so a save only clears the affected entries.
type CacheManager struct {
	listing   *LRUCache[Response]
	exercises *LRUCache[Response]
	basePath  string
}

// NewCacheManager creates a CacheManager from the given configuration.
// basePath is the URL path under which exercises are addressed by id, e.g.
// /api/exercises/v1alpha1/exercises. If cfg is nil or disabled, it returns nil.
func NewCacheManager(cfg *CacheConfig, basePath string) *CacheManager {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &CacheManager{
		listing:   NewLRUCache[Response](cfg.MaxSize, cfg.ListingTTL),
		exercises: NewLRUCache[Response](cfg.MaxSize, cfg.ExerciseTTL),
		basePath:  strings.TrimRight(basePath, "/"),
	}
}

// InvalidateExercise drops every cached response about exercise id and the
// listing, whose entries summarize it.
func (cm *CacheManager) InvalidateExercise(id string) {
	if cm == nil {
		return
	}
	key := cm.basePath + "/" + id
	cm.exercises.Invalidate(key)
	cm.exercises.InvalidatePrefix(key + "/")
	cm.exercises.InvalidatePrefix(key + "?")
	cm.listing.InvalidateAll()
}

// InvalidateAll clears both caches entirely.
func (cm *CacheManager) InvalidateAll() {
	if cm == nil {
		return
	}
	cm.listing.InvalidateAll()
	cm.exercises.InvalidateAll()
}

// ListingMiddleware returns HTTP middleware that caches the exercise listing.
func (cm *CacheManager) ListingMiddleware() func(http.Handler) http.Handler {
	if cm == nil {
		return passthrough
	}
	return CacheMiddleware(cm.listing)
}

// ExerciseMiddleware returns HTTP middleware that caches per-exercise reads.
func (cm *CacheManager) ExerciseMiddleware() func(http.Handler) http.Handler {
	if cm == nil {
		return passthrough
	}
	return CacheMiddleware(cm.exercises)
}

func passthrough(next http.Handler) http.Handler {
	return next
}
