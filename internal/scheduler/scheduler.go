// Package scheduler drives the ingestion pipeline on a fixed interval. Each
// cycle walks Idle → Selecting → Processing → Checkpointing → Idle. A tick
// arriving while a cycle is in flight is a no-op (single-flight guard), and
// every cycle runs under its own timeout so a stuck record cannot stall the
// process forever.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/park285/ladder-replay-ingest/internal/audit"
	"github.com/park285/ladder-replay-ingest/internal/domain"
	"github.com/park285/ladder-replay-ingest/internal/obslog"
	"github.com/park285/ladder-replay-ingest/internal/store"
)

// State is the scheduler's cycle phase.
type State int32

const (
	StateIdle State = iota
	StateSelecting
	StateProcessing
	StateCheckpointing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateProcessing:
		return "processing"
	case StateCheckpointing:
		return "checkpointing"
	default:
		return "unknown"
	}
}

// Metrics is the injected counter set. All fields are safe for concurrent
// reads while the scheduler runs.
type Metrics struct {
	Cycles    atomic.Int64
	Processed atomic.Int64
	Failed    atomic.Int64
	Skipped   atomic.Int64
}

// RecordStore is the persistence surface the scheduler needs.
type RecordStore interface {
	FetchPending(ctx context.Context, c store.Criteria) ([]domain.ReplayRecord, error)
	ClaimForParsing(ctx context.Context, id int64) (bool, error)
	ReleaseClaim(ctx context.Context, id int64) error
	MarkParsed(ctx context.Context, id int64, matchID string, needsReview bool) error
	MarkError(ctx context.Context, id int64, msg string) error
}

// statusWriteTimeout bounds the terminal status writes that run detached from
// the cycle context.
const statusWriteTimeout = 10 * time.Second

// Checkpoints persists the crash-recovery marker.
type Checkpoints interface {
	Get(ctx context.Context) (time.Time, error)
	Set(ctx context.Context, t time.Time) error
}

// Outcome is the result of processing one replay record.
type Outcome struct {
	// Tracked reports whether the replay belongs to the tracked ruleset.
	// Untracked replays finish as parsed without a match.
	Tracked     bool
	MatchID     string
	NeedsReview bool
}

// Processor runs the per-record pipeline (decompress, classify, analyze,
// materialize).
type Processor interface {
	Process(ctx context.Context, rec domain.ReplayRecord) (Outcome, error)
}

// Config bounds a scheduler instance.
type Config struct {
	Interval           time.Duration
	StabilizationDelay time.Duration
	CycleTimeout       time.Duration
	BatchSize          int
}

type Scheduler struct {
	store   RecordStore
	ckpt    Checkpoints
	proc    Processor
	audit   audit.Recorder
	cfg     Config
	metrics *Metrics
	state   atomic.Int32
}

func New(records RecordStore, ckpt Checkpoints, proc Processor, recorder audit.Recorder, cfg Config, metrics *Metrics) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 5 * time.Minute
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Scheduler{store: records, ckpt: ckpt, proc: proc, audit: recorder, cfg: cfg, metrics: metrics}
}

// State returns the current cycle phase.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Metrics returns the injected counter set.
func (s *Scheduler) Metrics() *Metrics { return s.metrics }

// Run ticks until ctx is cancelled. The first cycle starts immediately.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one cycle. A tick that finds a cycle already in flight returns
// immediately.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateSelecting)) {
		obslog.L().Debug("cycle_overlap_skipped", zap.String("state", s.State().String()))
		return
	}
	defer s.state.Store(int32(StateIdle))
	s.metrics.Cycles.Add(1)

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()

	// A checkpoint read failure is tolerated: starting from zero only widens
	// the selection window, and reprocessing parsed records is a no-op.
	cp, err := s.ckpt.Get(cctx)
	if err != nil {
		obslog.L().Warn("checkpoint_read_failed", zap.Error(err))
		cp = time.Time{}
	}

	batch, err := s.store.FetchPending(cctx, store.Criteria{
		Limit:            s.cfg.BatchSize,
		StabilizedBefore: time.Now().Add(-s.cfg.StabilizationDelay),
		DetectedAfter:    cp,
	})
	if err != nil {
		// The only whole-cycle failure: nothing was selected, nothing ran.
		obslog.L().Error("cycle_select_failed", zap.Error(err))
		return
	}
	if len(batch) == 0 {
		return
	}
	obslog.L().Info("cycle_selected",
		zap.Int("batch", len(batch)),
		zap.Time("checkpoint", cp),
	)

	s.state.Store(int32(StateProcessing))
	var newest time.Time
	successes := 0
	for _, rec := range batch {
		if cctx.Err() != nil {
			obslog.L().Warn("cycle_timeout", zap.Int64("replay_id", rec.ID))
			break
		}
		if s.processRecord(cctx, rec) {
			successes++
			if rec.DetectedAt.After(newest) {
				newest = rec.DetectedAt
			}
		}
	}

	if successes > 0 && !newest.IsZero() {
		s.state.Store(int32(StateCheckpointing))
		if err := s.ckpt.Set(cctx, newest); err != nil {
			// Non-fatal: the worst case is reprocessing after a restart.
			obslog.L().Warn("checkpoint_write_failed", zap.Time("checkpoint", newest), zap.Error(err))
		}
	}
}

// processRecord handles one record and reports whether it was successfully
// integrated (counts toward checkpoint advancement). Failures are recorded on
// the row and never abort the batch.
func (s *Scheduler) processRecord(ctx context.Context, rec domain.ReplayRecord) bool {
	// Crash idempotency: a record that already reached parsed with a match
	// was fully integrated before the checkpoint write was lost.
	if rec.ParseStatus == domain.StatusParsed && rec.MatchID != "" {
		s.metrics.Skipped.Add(1)
		obslog.L().Debug("replay_already_integrated", zap.Int64("replay_id", rec.ID), zap.String("match_id", rec.MatchID))
		return true
	}

	claimed, err := s.store.ClaimForParsing(ctx, rec.ID)
	if err != nil {
		obslog.L().Error("replay_claim_failed", zap.Int64("replay_id", rec.ID), zap.Error(err))
		return false
	}
	if !claimed {
		s.metrics.Skipped.Add(1)
		return false
	}

	out, perr := s.proc.Process(ctx, rec)

	// Status writes run detached from the cycle context: if the deadline (or
	// a shutdown cancel) fired mid-record, writing on the dead context would
	// strand the row in 'parsing', which the selection query excludes forever.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	if perr != nil {
		if errors.Is(perr, context.Canceled) || errors.Is(perr, context.DeadlineExceeded) {
			// Interrupted, not broken: release the claim so the next cycle
			// retries the record instead of terminally failing it.
			s.metrics.Skipped.Add(1)
			obslog.L().Warn("replay_processing_interrupted", zap.Int64("replay_id", rec.ID), zap.Error(perr))
			if rerr := s.store.ReleaseClaim(markCtx, rec.ID); rerr != nil {
				obslog.L().Error("replay_release_claim_failed", zap.Int64("replay_id", rec.ID), zap.Error(rerr))
			}
			return false
		}
		s.metrics.Failed.Add(1)
		obslog.L().Warn("replay_parse_failed",
			zap.Int64("replay_id", rec.ID),
			zap.String("filename", rec.Filename),
			zap.Error(perr),
		)
		s.audit.Event(markCtx, audit.EventError, recID(rec), map[string]any{"error": truncate(perr.Error(), 500)})
		if merr := s.store.MarkError(markCtx, rec.ID, perr.Error()); merr != nil {
			obslog.L().Error("replay_mark_error_failed", zap.Int64("replay_id", rec.ID), zap.Error(merr))
		}
		return false
	}

	if err := s.store.MarkParsed(markCtx, rec.ID, out.MatchID, out.NeedsReview); err != nil {
		s.metrics.Failed.Add(1)
		obslog.L().Error("replay_mark_parsed_failed", zap.Int64("replay_id", rec.ID), zap.Error(err))
		return false
	}
	s.metrics.Processed.Add(1)
	obslog.L().Info("replay_parsed",
		zap.Int64("replay_id", rec.ID),
		zap.String("filename", rec.Filename),
		zap.Bool("tracked", out.Tracked),
		zap.String("match_id", out.MatchID),
		zap.Bool("needs_review", out.NeedsReview),
	)
	return true
}

func recID(rec domain.ReplayRecord) string {
	return "replay:" + strings.TrimSpace(rec.Filename)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
