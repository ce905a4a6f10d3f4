// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Consumption profile operations
	SaveProfile(ctx context.Context, tenantID string, profile *ConsumptionProfile) error
	GetProfile(ctx context.Context, tenantID string, profileID string) (*ConsumptionProfile, error)
	GetProfilesByConsumer(ctx context.Context, tenantID string, consumerID string, since time.Time) ([]*ConsumptionProfile, error)

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	// Assessment results
	SaveAssessment(ctx context.Context, tenantID string, assessment *Assessment) error
	GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*Assessment, error)
	CountFlaggedAssessments(ctx context.Context, tenantID string, consumerID string, since time.Time) (int64, error)

	// Batch results
	SaveBatch(ctx context.Context, tenantID string, batch *BatchResult) error
	GetLatestBatch(ctx context.Context, tenantID string) (*BatchResult, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
