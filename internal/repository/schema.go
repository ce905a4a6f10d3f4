package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaProfiles = `
CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    consumer_id TEXT NOT NULL,
    readings TEXT NOT NULL,
    true_label INTEGER,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_profiles_tenant ON profiles(tenant_id);
CREATE INDEX IF NOT EXISTS idx_profiles_consumer ON profiles(tenant_id, consumer_id);
CREATE INDEX IF NOT EXISTS idx_profiles_timestamp ON profiles(tenant_id, timestamp);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    profile_id TEXT NOT NULL,
    consumer_id TEXT NOT NULL,
    status TEXT NOT NULL,
    prediction INTEGER NOT NULL,
    ensemble_score REAL NOT NULL,
    risk_category TEXT NOT NULL,
    model_scores TEXT NOT NULL,
    rule_results TEXT,
    rule_score REAL NOT NULL DEFAULT 0,
    rule_count INTEGER NOT NULL DEFAULT 0,
    true_label INTEGER,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tenant ON assessments(tenant_id);
CREATE INDEX IF NOT EXISTS idx_assessments_profile ON assessments(tenant_id, profile_id);
CREATE INDEX IF NOT EXISTS idx_assessments_consumer ON assessments(tenant_id, consumer_id);
CREATE INDEX IF NOT EXISTS idx_assessments_status ON assessments(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_assessments_timestamp ON assessments(tenant_id, timestamp);
`

// schemaBatches stores one row per CSV upload. The assessments and
// summary columns hold the full JSON served by the latest-predictions
// endpoint.
const schemaBatches = `
CREATE TABLE IF NOT EXISTS batches (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    assessments TEXT NOT NULL,
    summary TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batches_tenant ON batches(tenant_id);
CREATE INDEX IF NOT EXISTS idx_batches_timestamp ON batches(tenant_id, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaProfiles,
		schemaRuleConfigs,
		schemaAssessments,
		schemaBatches,
	}
}
