// Package watch registers replay files appearing in the upload directory as
// pending records. Files modified within the stabilization delay are skipped:
// the game client may still be flushing them.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/ladder-replay-ingest/internal/audit"
	"github.com/park285/ladder-replay-ingest/internal/domain"
	"github.com/park285/ladder-replay-ingest/internal/obslog"
)

// Registrar persists newly detected replays. Registration must be idempotent
// per path.
type Registrar interface {
	RegisterReplay(ctx context.Context, rec domain.ReplayRecord) (bool, error)
}

type Watcher struct {
	dir           string
	stabilization time.Duration
	reg           Registrar
	audit         audit.Recorder
}

func New(dir string, stabilization time.Duration, reg Registrar, recorder audit.Recorder) *Watcher {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Watcher{dir: dir, stabilization: stabilization, reg: reg, audit: recorder}
}

// Scan walks the replay directory once and registers unseen files. It returns
// the number of newly registered records.
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, err
	}
	added := 0
	now := time.Now()
	for _, e := range entries {
		if e.IsDir() || !replayFilename(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			obslog.L().Warn("replay_stat_failed", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		if now.Sub(info.ModTime()) < w.stabilization {
			continue
		}
		rec := domain.ReplayRecord{
			Filename:          e.Name(),
			Path:              filepath.Join(w.dir, e.Name()),
			DetectedAt:        now,
			FileWriteClosedAt: info.ModTime(),
			ParseStatus:       domain.StatusPending,
		}
		created, err := w.reg.RegisterReplay(ctx, rec)
		if err != nil {
			obslog.L().Error("replay_register_failed", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		if !created {
			continue
		}
		added++
		obslog.L().Info("replay_detected", zap.String("file", e.Name()), zap.Time("write_closed_at", rec.FileWriteClosedAt))
		w.audit.Event(ctx, audit.EventDetected, "replay:"+e.Name(), map[string]any{
			"path": rec.Path,
		})
	}
	return added, nil
}

// Run scans on the given interval until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	if _, err := w.Scan(ctx); err != nil {
		obslog.L().Error("replay_scan_failed", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := w.Scan(ctx); err != nil {
				obslog.L().Error("replay_scan_failed", zap.Error(err))
			}
		}
	}
}

func replayFilename(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".gz", ".bz2", ".rep", ".replay":
		return true
	default:
		return false
	}
}
