// Package match turns a completed replay analysis into a persisted match
// record: validation, player identity resolution, rating delta and the match
// row itself. A validation failure aborts only the record at hand, never the
// batch.
package match

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/ladder-replay-ingest/internal/audit"
	"github.com/park285/ladder-replay-ingest/internal/domain"
	"github.com/park285/ladder-replay-ingest/internal/obslog"
	"github.com/park285/ladder-replay-ingest/internal/replay"
)

// ErrValidationFailed marks an analysis that cannot become a match: wrong
// player count, missing map, or an unresolved winner.
var ErrValidationFailed = errors.New("match validation failed")

// Identity resolves player names to user ids, creating accounts as needed.
type Identity interface {
	EnsureUser(ctx context.Context, name string) (int64, error)
}

// Store persists finished match rows.
type Store interface {
	InsertMatch(ctx context.Context, m *domain.Match) error
}

// RatingSource computes the rating delta for a decided match. The real
// computation lives in the rating service; the pipeline only carries the
// returned value.
type RatingSource interface {
	Delta(ctx context.Context, winnerID, loserID int64) (int, error)
}

// FixedDelta is the placeholder rating source: every match transfers the same
// number of points.
type FixedDelta struct {
	Points int
}

func (f FixedDelta) Delta(context.Context, int64, int64) (int, error) {
	return f.Points, nil
}

type Materializer struct {
	identity Identity
	store    Store
	rating   RatingSource
	audit    audit.Recorder
}

func NewMaterializer(identity Identity, store Store, rating RatingSource, recorder audit.Recorder) *Materializer {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Materializer{identity: identity, store: store, rating: rating, audit: recorder}
}

// Materialize validates the analysis and creates the match record. A LOW
// confidence victory always marks the match for manual review.
func (m *Materializer) Materialize(ctx context.Context, rec domain.ReplayRecord, a *replay.Analysis) (*domain.Match, error) {
	if err := validate(a); err != nil {
		return nil, err
	}

	var winner, loser replay.Player
	for _, p := range a.Players {
		if p.Side == a.Victory.WinnerSide {
			winner = p
		} else {
			loser = p
		}
	}

	winnerID, err := m.identity.EnsureUser(ctx, winner.Name)
	if err != nil {
		return nil, fmt.Errorf("ensure winner %q: %w", winner.Name, err)
	}
	loserID, err := m.identity.EnsureUser(ctx, loser.Name)
	if err != nil {
		return nil, fmt.Errorf("ensure loser %q: %w", loser.Name, err)
	}

	delta, err := m.rating.Delta(ctx, winnerID, loserID)
	if err != nil {
		return nil, fmt.Errorf("rating delta: %w", err)
	}

	out := &domain.Match{
		MatchID:      uuid.NewString(),
		ReplayID:     rec.ID,
		ScenarioID:   a.Metadata.ScenarioID,
		ScenarioName: a.Metadata.ScenarioName,
		MapFile:      a.Metadata.MapFile,
		EraID:        a.Metadata.EraID,
		Version:      a.Metadata.Version,
		WinnerSide:   a.Victory.WinnerSide,
		WinnerUserID: winnerID,
		LoserUserID:  loserID,
		WinnerName:   winner.Name,
		LoserName:    loser.Name,
		ResultType:   string(a.Victory.ResultType),
		DetectedFrom: a.Victory.DetectedFrom,
		Confidence:   string(a.Victory.Confidence),
		RatingDelta:  delta,
		NeedsReview:  a.Victory.Confidence == replay.ConfidenceLow,
	}
	if err := m.store.InsertMatch(ctx, out); err != nil {
		return nil, err
	}

	obslog.L().Info("match_created",
		zap.String("match_id", out.MatchID),
		zap.Int64("replay_id", rec.ID),
		zap.String("winner", out.WinnerName),
		zap.String("loser", out.LoserName),
		zap.String("result_type", out.ResultType),
		zap.String("confidence", out.Confidence),
		zap.Bool("needs_review", out.NeedsReview),
	)
	m.audit.Event(ctx, audit.EventMatchCreated, out.MatchID, map[string]any{
		"replay_id":    rec.ID,
		"winner":       out.WinnerName,
		"loser":        out.LoserName,
		"result_type":  out.ResultType,
		"confidence":   out.Confidence,
		"needs_review": out.NeedsReview,
	})
	return out, nil
}

func validate(a *replay.Analysis) error {
	if a == nil {
		return fmt.Errorf("%w: no analysis", ErrValidationFailed)
	}
	if len(a.Players) != 2 {
		return fmt.Errorf("%w: expected 2 players, got %d", ErrValidationFailed, len(a.Players))
	}
	if strings.TrimSpace(a.Metadata.MapFile) == "" {
		return fmt.Errorf("%w: missing map", ErrValidationFailed)
	}
	if a.Victory.WinnerSide <= 0 || strings.TrimSpace(a.Victory.WinnerName) == "" {
		return fmt.Errorf("%w: unresolved winner", ErrValidationFailed)
	}
	found := false
	for _, p := range a.Players {
		if p.Side == a.Victory.WinnerSide {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: winner side %d not among players", ErrValidationFailed, a.Victory.WinnerSide)
	}
	return nil
}
