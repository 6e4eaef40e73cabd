package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema creates the evidence tables. Timestamps are Unix nanoseconds so
// range filters compare as integers.
const Schema = `
CREATE TABLE IF NOT EXISTS evidence (
    id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL,

    request_time INTEGER NOT NULL,
    recorded_time INTEGER NOT NULL,

    policy TEXT NOT NULL,
    client TEXT NOT NULL,
    requested_model TEXT NOT NULL,
    model TEXT NOT NULL,
    route_rule INTEGER NOT NULL,

    outcome TEXT NOT NULL,
    blocked_kind TEXT,
    reason TEXT,
    degraded BOOLEAN NOT NULL,
    cache_hit BOOLEAN NOT NULL,

    estimated_cost REAL NOT NULL,
    actual_cost REAL NOT NULL,

    pii_findings INTEGER NOT NULL,
    pii_types TEXT,

    latency_ms INTEGER NOT NULL,
    upstream_latency_ms INTEGER NOT NULL,

    digest TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evidence_request_time ON evidence(request_time);
CREATE INDEX IF NOT EXISTS idx_evidence_policy ON evidence(policy);
CREATE INDEX IF NOT EXISTS idx_evidence_client ON evidence(client);
CREATE INDEX IF NOT EXISTS idx_evidence_outcome ON evidence(outcome);
CREATE INDEX IF NOT EXISTS idx_evidence_request_id ON evidence(request_id);
`

// InsertSchemaVersion records the schema version.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion reads the newest schema version.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const columns = `id, request_id, request_time, recorded_time,
	policy, client, requested_model, model, route_rule,
	outcome, blocked_kind, reason, degraded, cache_hit,
	estimated_cost, actual_cost, pii_findings, pii_types,
	latency_ms, upstream_latency_ms, digest`
