package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the tables if needed. Having the migration in code
// keeps the stack self-contained so docker-compose can bootstrap everything.
// The UNIQUE constraints on analyses.media_file_id and
// content_certificates.media_file_id enforce the 1:1 analysis-per-media and
// one-certificate-per-media invariants at the storage layer.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS media_files (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	file_name TEXT NOT NULL,
	file_type TEXT NOT NULL,
	file_size BIGINT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS analyses (
	id TEXT PRIMARY KEY,
	media_file_id TEXT NOT NULL UNIQUE REFERENCES media_files(id),
	user_id TEXT NOT NULL,
	status TEXT NOT NULL,
	analysis_type TEXT NOT NULL,
	confidence_score DOUBLE PRECISION,
	is_authentic BOOLEAN,
	is_manipulated BOOLEAN,
	manipulation_types TEXT[],
	processing_time_ms BIGINT,
	detector_version TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_user_created ON analyses(user_id, created_at DESC);
CREATE TABLE IF NOT EXISTS detection_indicators (
	id TEXT PRIMARY KEY,
	analysis_id TEXT NOT NULL REFERENCES analyses(id),
	indicator_type TEXT NOT NULL,
	category TEXT NOT NULL,
	severity TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	description TEXT NOT NULL,
	location_data JSONB,
	evidence_data JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_indicators_analysis ON detection_indicators(analysis_id);
CREATE TABLE IF NOT EXISTS content_certificates (
	id TEXT PRIMARY KEY,
	media_file_id TEXT NOT NULL UNIQUE REFERENCES media_files(id),
	certificate_hash TEXT NOT NULL,
	anchor_txid TEXT,
	anchor_network TEXT NOT NULL DEFAULT '',
	issuer_id TEXT NOT NULL,
	certificate_type TEXT NOT NULL,
	certificate_data JSONB,
	valid_from TIMESTAMPTZ NOT NULL,
	valid_until TIMESTAMPTZ,
	revoked BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS api_keys (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	key_hash TEXT NOT NULL UNIQUE,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	rate_limit BIGINT,
	requests_count BIGINT NOT NULL DEFAULT 0,
	expires_at TIMESTAMPTZ,
	last_used_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	details JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_user_created ON audit_logs(user_id, created_at DESC);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
