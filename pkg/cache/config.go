package cache

import "time"

// CacheConfig holds configuration for the caching layer.
type CacheConfig struct {
	// Enabled controls whether caching is active. When false, no middleware
	// is applied and every lookup goes to the store.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ListingTTL is the TTL for the exercise listing response cache.
	ListingTTL time.Duration `mapstructure:"listing_ttl" yaml:"listing_ttl"`

	// ExerciseTTL is the TTL for per-exercise responses (detail, preview, version).
	ExerciseTTL time.Duration `mapstructure:"exercise_ttl" yaml:"exercise_ttl"`

	// PayloadTTL is the TTL for resolved payloads held by the store.
	PayloadTTL time.Duration `mapstructure:"payload_ttl" yaml:"payload_ttl"`

	// MaxSize is the maximum number of entries per cache instance.
	MaxSize int `mapstructure:"max_size" yaml:"max_size"`
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled:     true,
		ListingTTL:  30 * time.Second,
		ExerciseTTL: 60 * time.Second,
		PayloadTTL:  5 * time.Minute,
		MaxSize:     1000,
	}
}
