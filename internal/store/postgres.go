// Package store is the Postgres persistence layer: replay records, match
// rows, player identities and audit events. The replays.parse_status column
// doubles as the single-process processing lock; claims are guarded updates
// so two consumers cannot both take the same record.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/ladder-replay-ingest/internal/domain"
)

// ErrPersistence marks database failures so callers can distinguish them from
// per-record parse failures.
var ErrPersistence = errors.New("persistence failure")

func wrapPersistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

const maxErrorMessageLen = 500

type Repository struct {
	db *sql.DB
}

func New(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Criteria selects the next batch of replay records.
type Criteria struct {
	Limit            int
	StabilizedBefore time.Time
	DetectedAfter    time.Time
}

// FetchPending returns records ready for processing in ascending detected_at
// order: status not parsing/error, write-closed before the stabilization
// cutoff, and detected after the checkpoint.
func (r *Repository) FetchPending(ctx context.Context, c Criteria) ([]domain.ReplayRecord, error) {
	if c.Limit <= 0 {
		c.Limit = 10
	}
	q := `SELECT id, filename, path, detected_at,
	             COALESCE(file_write_closed_at, 'epoch'::timestamptz),
	             parse_status,
	             COALESCE(match_id, ''), needs_review,
	             COALESCE(parse_error_message, '')
	      FROM replays
	      WHERE parse_status NOT IN ('parsing', 'error')
	        AND file_write_closed_at IS NOT NULL
	        AND file_write_closed_at <= $1
	        AND detected_at > $2
	      ORDER BY detected_at ASC
	      LIMIT $3`
	rows, err := r.db.QueryContext(ctx, q, c.StabilizedBefore, c.DetectedAfter, c.Limit)
	if err != nil {
		return nil, wrapPersistence("fetch pending replays", err)
	}
	defer rows.Close()

	var out []domain.ReplayRecord
	for rows.Next() {
		var rec domain.ReplayRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.Path, &rec.DetectedAt,
			&rec.FileWriteClosedAt, &status, &rec.MatchID, &rec.NeedsReview,
			&rec.ParseErrorMessage); err != nil {
			return nil, wrapPersistence("scan replay row", err)
		}
		rec.ParseStatus = domain.ParseStatus(status)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPersistence("iterate replay rows", err)
	}
	return out, nil
}

// ClaimForParsing flips a record to 'parsing' as a lightweight lock. The
// guarded update is atomic with the status read, so under true concurrency
// only one caller sees ok=true. Records already parsed with a match are not
// claimable; reprocessing them must stay a no-op.
func (r *Repository) ClaimForParsing(ctx context.Context, id int64) (bool, error) {
	q := `UPDATE replays
	      SET parse_status = 'parsing', parsing_started_at = now()
	      WHERE id = $1
	        AND parse_status NOT IN ('parsing', 'error')
	        AND NOT (parse_status = 'parsed' AND match_id IS NOT NULL)`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, wrapPersistence("claim replay", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapPersistence("claim replay", err)
	}
	return n > 0, nil
}

// ReleaseClaim returns a claimed record to pending so a later cycle can retry
// it. Used when processing was interrupted (timeout, shutdown) rather than
// failed.
func (r *Repository) ReleaseClaim(ctx context.Context, id int64) error {
	q := `UPDATE replays
	      SET parse_status = 'pending', parsing_started_at = NULL
	      WHERE id = $1 AND parse_status = 'parsing'`
	if _, err := r.db.ExecContext(ctx, q, id); err != nil {
		return wrapPersistence("release claim", err)
	}
	return nil
}

// MarkParsed records a terminal success. matchID is empty for replays that
// are not tracked ladder games.
func (r *Repository) MarkParsed(ctx context.Context, id int64, matchID string, needsReview bool) error {
	q := `UPDATE replays
	      SET parse_status = 'parsed', parsing_completed_at = now(),
	          match_id = NULLIF($2, ''), needs_review = $3,
	          parse_error_message = NULL
	      WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, q, id, strings.TrimSpace(matchID), needsReview); err != nil {
		return wrapPersistence("mark parsed", err)
	}
	return nil
}

// MarkError records a terminal failure with a truncated message.
func (r *Repository) MarkError(ctx context.Context, id int64, msg string) error {
	msg = strings.TrimSpace(msg)
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	q := `UPDATE replays
	      SET parse_status = 'error', parsing_completed_at = now(),
	          parse_error_message = $2
	      WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, q, id, msg); err != nil {
		return wrapPersistence("mark error", err)
	}
	return nil
}

// RegisterReplay inserts a newly detected replay as pending. Duplicate paths
// are ignored so repeated directory scans stay idempotent.
func (r *Repository) RegisterReplay(ctx context.Context, rec domain.ReplayRecord) (bool, error) {
	q := `INSERT INTO replays (filename, path, detected_at, file_write_closed_at, parse_status)
	      VALUES ($1, $2, $3, $4, 'pending')
	      ON CONFLICT (path) DO NOTHING`
	res, err := r.db.ExecContext(ctx, q, rec.Filename, rec.Path, rec.DetectedAt, rec.FileWriteClosedAt)
	if err != nil {
		return false, wrapPersistence("register replay", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapPersistence("register replay", err)
	}
	return n > 0, nil
}

// EnsureUser resolves a player name to a user id, creating the row when
// missing.
func (r *Repository) EnsureUser(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("empty user name")
	}
	q := `INSERT INTO users (name) VALUES ($1)
	      ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
	      RETURNING id`
	var id int64
	if err := r.db.QueryRowContext(ctx, q, name).Scan(&id); err != nil {
		return 0, wrapPersistence("ensure user", err)
	}
	return id, nil
}

// InsertMatch upserts a match row keyed by match_id, so a crashed cycle that
// re-materializes the same match cannot create a duplicate.
func (r *Repository) InsertMatch(ctx context.Context, m *domain.Match) error {
	if m == nil {
		return nil
	}
	q := `INSERT INTO matches (
	        match_id, replay_id, scenario_id, scenario_name, map_file, era_id, version,
	        winner_side, winner_user_id, loser_user_id, winner_name, loser_name,
	        result_type, detected_from, confidence, rating_delta, needs_review
	      ) VALUES (
	        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
	      ) ON CONFLICT (match_id) DO UPDATE SET
	        winner_side=EXCLUDED.winner_side,
	        winner_user_id=EXCLUDED.winner_user_id,
	        loser_user_id=EXCLUDED.loser_user_id,
	        winner_name=EXCLUDED.winner_name,
	        loser_name=EXCLUDED.loser_name,
	        result_type=EXCLUDED.result_type,
	        detected_from=EXCLUDED.detected_from,
	        confidence=EXCLUDED.confidence,
	        rating_delta=EXCLUDED.rating_delta,
	        needs_review=EXCLUDED.needs_review`
	_, err := r.db.ExecContext(ctx, q,
		m.MatchID, m.ReplayID,
		m.ScenarioID, m.ScenarioName, m.MapFile, m.EraID, m.Version,
		m.WinnerSide, m.WinnerUserID, m.LoserUserID, m.WinnerName, m.LoserName,
		m.ResultType, m.DetectedFrom, m.Confidence, m.RatingDelta, m.NeedsReview,
	)
	if err != nil {
		return wrapPersistence("insert match", err)
	}
	return nil
}

// InsertAuditEvent appends one audit row. Callers treat failures as
// best-effort.
func (r *Repository) InsertAuditEvent(ctx context.Context, eventType, subjectID string, metadata []byte) error {
	q := `INSERT INTO audit_events (event_type, subject_id, metadata) VALUES ($1, $2, $3)`
	var meta any
	if len(metadata) > 0 {
		meta = metadata
	}
	if _, err := r.db.ExecContext(ctx, q, eventType, subjectID, meta); err != nil {
		return wrapPersistence("insert audit event", err)
	}
	return nil
}
