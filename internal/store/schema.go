package store

// Schema creates the consent, audit and quota tables. Memory records use
// the memory package's own schema on the same database.
const Schema = `
CREATE TABLE IF NOT EXISTS consent_records (
	id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	profile_id TEXT NOT NULL,
	purpose TEXT NOT NULL,
	granted_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL,
	revoked_at DATETIME,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	PRIMARY KEY (user_id, profile_id, purpose)
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	correlation_id TEXT UNIQUE NOT NULL,
	user_id TEXT NOT NULL,
	profile_id TEXT NOT NULL,
	is_voice BOOLEAN NOT NULL DEFAULT 0,
	capability TEXT NOT NULL DEFAULT 'UNKNOWN',
	intent_class TEXT NOT NULL DEFAULT 'UNKNOWN',
	blocked_reason TEXT DEFAULT '',
	refusal_code TEXT DEFAULT '',
	model_used TEXT DEFAULT '',
	error_text TEXT DEFAULT '',
	steps TEXT NOT NULL DEFAULT '[]',
	started_at DATETIME NOT NULL,
	finished_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_user ON audit_logs(user_id, profile_id);
CREATE INDEX IF NOT EXISTS idx_audit_logs_started ON audit_logs(started_at);

CREATE TABLE IF NOT EXISTS quota_usage (
	user_id TEXT NOT NULL,
	profile_id TEXT NOT NULL,
	day TEXT NOT NULL,
	used INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, profile_id, day)
);
`
