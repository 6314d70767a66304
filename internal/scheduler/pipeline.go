package scheduler

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/park285/ladder-replay-ingest/internal/audit"
	"github.com/park285/ladder-replay-ingest/internal/domain"
	"github.com/park285/ladder-replay-ingest/internal/match"
	"github.com/park285/ladder-replay-ingest/internal/obslog"
	"github.com/park285/ladder-replay-ingest/internal/replay"
	"github.com/park285/ladder-replay-ingest/internal/rules"
)

// ReplayProcessor is the per-record pipeline: read file, decompress, quick
// classify, and for tracked replays the full analysis plus match
// materialization.
type ReplayProcessor struct {
	catalog      *rules.Catalog
	materializer *match.Materializer
	audit        audit.Recorder
}

func NewReplayProcessor(catalog *rules.Catalog, materializer *match.Materializer, recorder audit.Recorder) *ReplayProcessor {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &ReplayProcessor{catalog: catalog, materializer: materializer, audit: recorder}
}

func (p *ReplayProcessor) Process(ctx context.Context, rec domain.ReplayRecord) (Outcome, error) {
	raw, err := os.ReadFile(rec.Path)
	if err != nil {
		return Outcome{}, fmt.Errorf("read replay file: %w", err)
	}
	text, err := replay.Decompress(raw)
	if err != nil {
		return Outcome{}, err
	}

	quick := replay.QuickCheck(text, p.catalog.TrackedAddonIDs())
	p.audit.Event(ctx, audit.EventClassified, recID(rec), map[string]any{
		"tracked": quick.HasTrackedAddon,
		"addon":   quick.AddonID,
		"version": quick.Version,
		"era":     quick.EraID,
	})
	if !quick.HasTrackedAddon {
		obslog.L().Debug("replay_not_tracked", zap.Int64("replay_id", rec.ID), zap.String("filename", rec.Filename))
		return Outcome{Tracked: false}, nil
	}

	analysis, err := replay.Analyze(text, p.catalog)
	if err != nil {
		return Outcome{}, err
	}
	p.audit.Event(ctx, audit.EventParsed, recID(rec), map[string]any{
		"scenario":      analysis.Metadata.ScenarioID,
		"map":           analysis.Metadata.MapFile,
		"era":           analysis.Metadata.EraID,
		"players":       len(analysis.Players),
		"winner_side":   analysis.Victory.WinnerSide,
		"detected_from": analysis.Victory.DetectedFrom,
		"confidence":    string(analysis.Victory.Confidence),
	})

	created, err := p.materializer.Materialize(ctx, rec, analysis)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Tracked:     true,
		MatchID:     created.MatchID,
		NeedsReview: created.NeedsReview,
	}, nil
}
