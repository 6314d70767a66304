package store

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS replays (
    id BIGSERIAL PRIMARY KEY,
    filename TEXT NOT NULL,
    path TEXT NOT NULL UNIQUE,
    detected_at TIMESTAMPTZ NOT NULL,
    file_write_closed_at TIMESTAMPTZ,
    parse_status TEXT NOT NULL DEFAULT 'pending',
    parsing_started_at TIMESTAMPTZ,
    parsing_completed_at TIMESTAMPTZ,
    parse_error_message TEXT,
    match_id TEXT,
    needs_review BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_replays_detected_at ON replays (detected_at);
CREATE INDEX IF NOT EXISTS idx_replays_parse_status ON replays (parse_status);

CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS matches (
    match_id TEXT PRIMARY KEY,
    replay_id BIGINT NOT NULL,
    scenario_id TEXT NOT NULL DEFAULT '',
    scenario_name TEXT NOT NULL DEFAULT '',
    map_file TEXT NOT NULL DEFAULT '',
    era_id TEXT NOT NULL DEFAULT '',
    version TEXT NOT NULL DEFAULT '',
    winner_side INT NOT NULL,
    winner_user_id BIGINT NOT NULL,
    loser_user_id BIGINT NOT NULL,
    winner_name TEXT NOT NULL,
    loser_name TEXT NOT NULL,
    result_type TEXT NOT NULL,
    detected_from TEXT NOT NULL,
    confidence TEXT NOT NULL,
    rating_delta INT NOT NULL DEFAULT 0,
    needs_review BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_events (
    id BIGSERIAL PRIMARY KEY,
    event_type TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the pipeline tables when missing. Idempotent.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return wrapPersistence("ensure schema", err)
	}
	return nil
}
