// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gridwatch/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveProfile stores a consumption profile with tenant isolation.
func (r *SQLRepository) SaveProfile(ctx context.Context, tenantID string, profile *domain.ConsumptionProfile) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	readings, _ := json.Marshal(profile.Readings)
	metadata, _ := json.Marshal(profile.Metadata)

	query := `
		INSERT INTO profiles (
			id, tenant_id, consumer_id, readings, true_label,
			timestamp, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		profile.ID, tenantID, profile.ConsumerID,
		string(readings), nullableInt(profile.TrueLabel),
		profile.Timestamp, profile.CreatedAt,
		string(metadata),
	)
	return err
}

// GetProfile retrieves a consumption profile by ID with tenant isolation.
func (r *SQLRepository) GetProfile(ctx context.Context, tenantID string, profileID string) (*domain.ConsumptionProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, consumer_id, readings, true_label,
			   timestamp, created_at, metadata
		FROM profiles
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, profileID)
	profile, err := scanProfile(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return profile, err
}

// GetProfilesByConsumer retrieves a consumer's profiles since a point in time.
func (r *SQLRepository) GetProfilesByConsumer(ctx context.Context, tenantID string, consumerID string, since time.Time) ([]*domain.ConsumptionProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, consumer_id, readings, true_label,
			   timestamp, created_at, metadata
		FROM profiles
		WHERE tenant_id = ? AND consumer_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, consumerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*domain.ConsumptionProfile
	for rows.Next() {
		profile, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}

	return profiles, rows.Err()
}

func scanProfile(scan func(...any) error) (*domain.ConsumptionProfile, error) {
	var profile domain.ConsumptionProfile
	var readings, metadata string
	var trueLabel sql.NullInt64

	if err := scan(
		&profile.ID, &profile.TenantID, &profile.ConsumerID,
		&readings, &trueLabel,
		&profile.Timestamp, &profile.CreatedAt,
		&metadata,
	); err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(readings), &profile.Readings)
	if metadata != "" {
		json.Unmarshal([]byte(metadata), &profile.Metadata)
	}
	if trueLabel.Valid {
		label := int(trueLabel.Int64)
		profile.TrueLabel = &label
	}

	return &profile, nil
}

// SaveRuleConfig stores a rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(rule.Bands)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, bands, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(bands), rule.Weight, enabled,
		now, now,
	)
	return err
}

// GetRuleConfig retrieves a rule configuration with tenant isolation.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.RuleConfig
	var bands string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Expression, &bands, &cfg.Weight, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1
	json.Unmarshal([]byte(bands), &cfg.Bands)

	return &cfg, nil
}

// ListRuleConfigs retrieves all active rule configurations for a tenant.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var bands string
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
			&cfg.Version, &cfg.Expression, &bands, &cfg.Weight, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		json.Unmarshal([]byte(bands), &cfg.Bands)
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// SaveAssessment stores an assessment result with tenant isolation.
func (r *SQLRepository) SaveAssessment(ctx context.Context, tenantID string, assessment *domain.Assessment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	modelScores, _ := json.Marshal(assessment.ModelScores)
	ruleResults, _ := json.Marshal(assessment.RuleResults)
	metadata, _ := json.Marshal(assessment.Metadata)

	query := `
		INSERT INTO assessments (
			id, tenant_id, profile_id, consumer_id, status, prediction,
			ensemble_score, risk_category, model_scores, rule_results,
			rule_score, rule_count, true_label, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		assessment.ID, tenantID, assessment.ProfileID, assessment.ConsumerID,
		assessment.Status, assessment.Prediction,
		assessment.EnsembleScore, assessment.RiskCategory,
		string(modelScores), string(ruleResults),
		assessment.RuleScore, assessment.RuleCount,
		nullableInt(assessment.TrueLabel), assessment.Timestamp,
		string(metadata),
	)
	return err
}

// GetAssessment retrieves an assessment by ID with tenant isolation.
func (r *SQLRepository) GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*domain.Assessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, profile_id, consumer_id, status, prediction,
			   ensemble_score, risk_category, model_scores, rule_results,
			   rule_score, rule_count, true_label, timestamp, metadata
		FROM assessments
		WHERE tenant_id = ? AND id = ?
	`

	var a domain.Assessment
	var modelScores, ruleResults, metadata string
	var trueLabel sql.NullInt64

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, assessmentID).Scan(
		&a.ID, &a.TenantID, &a.ProfileID, &a.ConsumerID,
		&a.Status, &a.Prediction,
		&a.EnsembleScore, &a.RiskCategory,
		&modelScores, &ruleResults,
		&a.RuleScore, &a.RuleCount,
		&trueLabel, &a.Timestamp, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(modelScores), &a.ModelScores)
	json.Unmarshal([]byte(ruleResults), &a.RuleResults)
	json.Unmarshal([]byte(metadata), &a.Metadata)
	if trueLabel.Valid {
		label := int(trueLabel.Int64)
		a.TrueLabel = &label
	}

	return &a, nil
}

// CountFlaggedAssessments counts a consumer's theft alerts since a
// point in time. Backs the repeat-offender rule variable.
func (r *SQLRepository) CountFlaggedAssessments(ctx context.Context, tenantID string, consumerID string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM assessments
		WHERE tenant_id = ? AND consumer_id = ? AND status = ? AND timestamp >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		tenantID, consumerID, domain.StatusAlert, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count assessments: %w", err)
	}

	return count, nil
}

// SaveBatch stores a batch result with tenant isolation.
func (r *SQLRepository) SaveBatch(ctx context.Context, tenantID string, batch *domain.BatchResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	assessments, _ := json.Marshal(batch.Assessments)
	summary, _ := json.Marshal(batch.Summary)

	query := `
		INSERT INTO batches (id, tenant_id, assessments, summary, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		batch.ID, tenantID, string(assessments), string(summary), batch.Timestamp,
	)
	return err
}

// GetLatestBatch retrieves the most recent batch for a tenant.
func (r *SQLRepository) GetLatestBatch(ctx context.Context, tenantID string) (*domain.BatchResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, assessments, summary, timestamp
		FROM batches
		WHERE tenant_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var batch domain.BatchResult
	var assessments, summary string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(
		&batch.ID, &batch.TenantID, &assessments, &summary, &batch.Timestamp,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(assessments), &batch.Assessments)
	json.Unmarshal([]byte(summary), &batch.Summary)

	return &batch, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// nullableInt maps an optional label to its SQL representation.
func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
