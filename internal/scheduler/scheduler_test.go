package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/ladder-replay-ingest/internal/checkpoint"
	"github.com/park285/ladder-replay-ingest/internal/domain"
	"github.com/park285/ladder-replay-ingest/internal/store"
)

// fakeRecordStore mirrors the SQL guard semantics in memory: rows in parsing
// or error state are never selected, and a parsed row with a match cannot be
// claimed again.
type fakeRecordStore struct {
	mu       sync.Mutex
	rows     map[int64]*domain.ReplayRecord
	fetchErr error
}

func newFakeRecordStore(rows ...domain.ReplayRecord) *fakeRecordStore {
	f := &fakeRecordStore{rows: map[int64]*domain.ReplayRecord{}}
	for i := range rows {
		r := rows[i]
		f.rows[r.ID] = &r
	}
	return f
}

func (f *fakeRecordStore) FetchPending(_ context.Context, c store.Criteria) ([]domain.ReplayRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []domain.ReplayRecord
	for _, r := range f.rows {
		if r.ParseStatus == domain.StatusParsing || r.ParseStatus == domain.StatusError {
			continue
		}
		if !r.FileWriteClosedAt.Before(c.StabilizedBefore) {
			continue
		}
		if !c.DetectedAfter.IsZero() && !r.DetectedAt.After(c.DetectedAfter) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	if c.Limit > 0 && len(out) > c.Limit {
		out = out[:c.Limit]
	}
	return out, nil
}

func (f *fakeRecordStore) ClaimForParsing(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return false, nil
	}
	if r.ParseStatus == domain.StatusParsing || r.ParseStatus == domain.StatusError {
		return false, nil
	}
	if r.ParseStatus == domain.StatusParsed && r.MatchID != "" {
		return false, nil
	}
	r.ParseStatus = domain.StatusParsing
	r.ParsingStartedAt = time.Now()
	return true, nil
}

func (f *fakeRecordStore) ReleaseClaim(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil
	}
	if r.ParseStatus == domain.StatusParsing {
		r.ParseStatus = domain.StatusPending
		r.ParsingStartedAt = time.Time{}
	}
	return nil
}

func (f *fakeRecordStore) MarkParsed(_ context.Context, id int64, matchID string, needsReview bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rows[id]
	r.ParseStatus = domain.StatusParsed
	r.MatchID = matchID
	r.NeedsReview = needsReview
	r.ParsingCompletedAt = time.Now()
	return nil
}

func (f *fakeRecordStore) MarkError(_ context.Context, id int64, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rows[id]
	r.ParseStatus = domain.StatusError
	r.ParseErrorMessage = msg
	return nil
}

func (f *fakeRecordStore) row(t *testing.T, id int64) domain.ReplayRecord {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		t.Fatalf("no row %d", id)
	}
	return *r
}

type fakeProcessor struct {
	mu      sync.Mutex
	calls   []int64
	outcome func(rec domain.ReplayRecord) (Outcome, error)
	block   chan struct{}
	waitCtx bool
}

func (f *fakeProcessor) Process(ctx context.Context, rec domain.ReplayRecord) (Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rec.ID)
	f.mu.Unlock()
	if f.waitCtx {
		<-ctx.Done()
		return Outcome{}, ctx.Err()
	}
	if f.block != nil {
		<-f.block
	}
	if f.outcome != nil {
		return f.outcome(rec)
	}
	return Outcome{Tracked: true, MatchID: fmt.Sprintf("match-%d", rec.ID)}, nil
}

func (f *fakeProcessor) callIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.calls...)
}

func newTestCheckpoints(t *testing.T) *checkpoint.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	s, err := checkpoint.NewStore(fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("checkpoint.NewStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stableRecord(id int64, detected time.Time) domain.ReplayRecord {
	return domain.ReplayRecord{
		ID:                id,
		Filename:          fmt.Sprintf("replay-%d.gz", id),
		Path:              fmt.Sprintf("/replays/replay-%d.gz", id),
		DetectedAt:        detected,
		FileWriteClosedAt: detected.Add(-time.Minute),
		ParseStatus:       domain.StatusPending,
	}
}

func TestTickPartialBatchFailure(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	st := newFakeRecordStore(
		stableRecord(1, base),
		stableRecord(2, base.Add(time.Minute)),
		stableRecord(3, base.Add(2*time.Minute)),
	)
	proc := &fakeProcessor{outcome: func(rec domain.ReplayRecord) (Outcome, error) {
		if rec.ID == 2 {
			return Outcome{}, errors.New("corrupt archive")
		}
		return Outcome{Tracked: true, MatchID: fmt.Sprintf("match-%d", rec.ID)}, nil
	}}
	ckpt := newTestCheckpoints(t)
	s := New(st, ckpt, proc, nil, Config{StabilizationDelay: time.Second}, nil)

	s.Tick(context.Background())

	if got := s.Metrics().Processed.Load(); got != 2 {
		t.Fatalf("processed = %d", got)
	}
	if got := s.Metrics().Failed.Load(); got != 1 {
		t.Fatalf("failed = %d", got)
	}
	r2 := st.row(t, 2)
	if r2.ParseStatus != domain.StatusError || r2.ParseErrorMessage == "" {
		t.Fatalf("failed record: %+v", r2)
	}
	r3 := st.row(t, 3)
	if r3.ParseStatus != domain.StatusParsed || r3.MatchID != "match-3" {
		t.Fatalf("a failure must not abort the rest of the batch: %+v", r3)
	}

	// The checkpoint is the newest successfully integrated record, not the
	// failed one in the middle.
	cp, err := ckpt.Get(context.Background())
	if err != nil {
		t.Fatalf("checkpoint get: %v", err)
	}
	if !cp.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("checkpoint = %v, want %v", cp, base.Add(2*time.Minute))
	}
}

func TestTickHonorsBatchSize(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	var rows []domain.ReplayRecord
	for i := int64(1); i <= 5; i++ {
		rows = append(rows, stableRecord(i, base.Add(time.Duration(i)*time.Minute)))
	}
	st := newFakeRecordStore(rows...)
	proc := &fakeProcessor{}
	s := New(st, newTestCheckpoints(t), proc, nil, Config{StabilizationDelay: time.Second, BatchSize: 2}, nil)

	s.Tick(context.Background())

	calls := proc.callIDs()
	if len(calls) != 2 {
		t.Fatalf("batch size ignored, processed %v", calls)
	}
	// oldest first
	if calls[0] != 1 || calls[1] != 2 {
		t.Fatalf("expected ascending detection order, got %v", calls)
	}
}

func TestTickSkipsAlreadyIntegrated(t *testing.T) {
	// Simulates a crash after MarkParsed but before the checkpoint write: the
	// record is re-selected, must count as a success without reprocessing, and
	// must advance the checkpoint.
	base := time.Now().Add(-time.Hour)
	done := stableRecord(1, base)
	done.ParseStatus = domain.StatusParsed
	done.MatchID = "match-1"
	st := newFakeRecordStore(done)
	proc := &fakeProcessor{}
	ckpt := newTestCheckpoints(t)
	s := New(st, ckpt, proc, nil, Config{StabilizationDelay: time.Second}, nil)

	s.Tick(context.Background())

	if calls := proc.callIDs(); len(calls) != 0 {
		t.Fatalf("already integrated record must not be reprocessed: %v", calls)
	}
	if got := s.Metrics().Skipped.Load(); got != 1 {
		t.Fatalf("skipped = %d", got)
	}
	cp, err := ckpt.Get(context.Background())
	if err != nil {
		t.Fatalf("checkpoint get: %v", err)
	}
	if cp.IsZero() {
		t.Fatalf("checkpoint must advance past an already integrated record")
	}
}

func TestTickSingleFlight(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	st := newFakeRecordStore(stableRecord(1, base))
	proc := &fakeProcessor{block: make(chan struct{})}
	s := New(st, newTestCheckpoints(t), proc, nil, Config{StabilizationDelay: time.Second}, nil)

	first := make(chan struct{})
	go func() {
		s.Tick(context.Background())
		close(first)
	}()

	// Wait until the first tick is inside Process, then tick again.
	deadline := time.After(2 * time.Second)
	for len(proc.callIDs()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("first tick never reached the processor")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	s.Tick(context.Background())
	if got := s.Metrics().Cycles.Load(); got != 1 {
		t.Fatalf("overlapping tick must be a no-op, cycles = %d", got)
	}

	close(proc.block)
	<-first
	if s.State() != StateIdle {
		t.Fatalf("state after cycle: %v", s.State())
	}
	if got := s.Metrics().Cycles.Load(); got != 1 {
		t.Fatalf("cycles = %d", got)
	}
}

func TestTickSelectFailureEndsCycle(t *testing.T) {
	st := newFakeRecordStore()
	st.fetchErr = errors.New("connection refused")
	proc := &fakeProcessor{}
	s := New(st, newTestCheckpoints(t), proc, nil, Config{StabilizationDelay: time.Second}, nil)

	s.Tick(context.Background())

	if calls := proc.callIDs(); len(calls) != 0 {
		t.Fatalf("nothing may run after a failed selection: %v", calls)
	}
	if s.State() != StateIdle {
		t.Fatalf("state must return to idle, got %v", s.State())
	}
}

func TestTickCycleTimeoutReleasesClaim(t *testing.T) {
	// A record still inside Process when the cycle deadline fires must come
	// back as pending, not be stranded in parsing or terminally failed.
	base := time.Now().Add(-time.Hour)
	st := newFakeRecordStore(stableRecord(1, base))
	proc := &fakeProcessor{waitCtx: true}
	ckpt := newTestCheckpoints(t)
	s := New(st, ckpt, proc, nil, Config{StabilizationDelay: time.Second, CycleTimeout: 50 * time.Millisecond}, nil)

	s.Tick(context.Background())

	if calls := proc.callIDs(); len(calls) != 1 {
		t.Fatalf("record should have been claimed and started: %v", calls)
	}
	r := st.row(t, 1)
	if r.ParseStatus != domain.StatusPending {
		t.Fatalf("interrupted record must return to pending, got %v", r.ParseStatus)
	}
	if got := s.Metrics().Failed.Load(); got != 0 {
		t.Fatalf("a timeout is an interruption, not a parse failure: failed = %d", got)
	}
	cp, err := ckpt.Get(context.Background())
	if err != nil {
		t.Fatalf("checkpoint get: %v", err)
	}
	if !cp.IsZero() {
		t.Fatalf("checkpoint must not advance past an interrupted record, got %v", cp)
	}

	// The released record is selectable again.
	batch, err := st.FetchPending(context.Background(), store.Criteria{Limit: 10, StabilizedBefore: time.Now()})
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if len(batch) != 1 || batch[0].ID != 1 {
		t.Fatalf("released record must be selectable next cycle: %+v", batch)
	}
}

func TestTickRespectsCheckpointWindow(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	st := newFakeRecordStore(
		stableRecord(1, base),
		stableRecord(2, base.Add(10*time.Minute)),
	)
	proc := &fakeProcessor{}
	ckpt := newTestCheckpoints(t)
	if err := ckpt.Set(context.Background(), base.Add(5*time.Minute)); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	s := New(st, ckpt, proc, nil, Config{StabilizationDelay: time.Second}, nil)

	s.Tick(context.Background())

	calls := proc.callIDs()
	if len(calls) != 1 || calls[0] != 2 {
		t.Fatalf("only records detected after the checkpoint may be selected: %v", calls)
	}
}
