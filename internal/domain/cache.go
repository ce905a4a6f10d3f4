package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetProfileSnapshot retrieves a cached profile snapshot.
	GetProfileSnapshot(ctx context.Context, tenantID string, profileID string) (*ProfileSnapshot, error)

	// SetProfileSnapshot caches profile data for pipeline processing.
	SetProfileSnapshot(ctx context.Context, tenantID string, profileID string, data *ProfileSnapshot, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for repeat-offender checks (alerts per consumer in a time window).
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// GetCounter reads a counter without incrementing it.
	// Missing or expired counters read as zero.
	GetCounter(ctx context.Context, tenantID string, key string) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ProfileSnapshot holds cached profile data passed through the pipeline.
type ProfileSnapshot struct {
	ConsumerID    string    `json:"consumerId"`
	ReadingCount  int       `json:"readingCount"`
	MeanKWh       float64   `json:"meanKwh"`
	EnsembleScore float64   `json:"ensembleScore"`
	RiskCategory  string    `json:"riskCategory"`
	Timestamp     time.Time `json:"timestamp"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
