package history

// SchemaVersion is the current history schema version.
const SchemaVersion = 1

// Schema creates the request history tables.
const Schema = `
CREATE TABLE IF NOT EXISTS requests (
    id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL,

    account TEXT NOT NULL DEFAULT '',
    provider TEXT NOT NULL,
    agent TEXT NOT NULL DEFAULT '',

    method TEXT NOT NULL,
    path TEXT NOT NULL,
    client_name TEXT NOT NULL DEFAULT '',
    client_version TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',

    status_code INTEGER NOT NULL,
    streamed BOOLEAN NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',

    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cache_read_tokens INTEGER NOT NULL DEFAULT 0,
    cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
    cost_usd REAL NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,

    request_body TEXT,
    response_body TEXT,
    truncated BOOLEAN NOT NULL DEFAULT 0,

    started_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_requests_started_at ON requests(started_at);
CREATE INDEX IF NOT EXISTS idx_requests_account ON requests(account);
CREATE INDEX IF NOT EXISTS idx_requests_model ON requests(model);
CREATE INDEX IF NOT EXISTS idx_requests_request_id ON requests(request_id);
`

// InsertSchemaVersion records the applied schema version.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion reads the newest applied schema version.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
