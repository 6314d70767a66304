package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/ladder-replay-ingest/internal/audit"
	"github.com/park285/ladder-replay-ingest/internal/checkpoint"
	appcfg "github.com/park285/ladder-replay-ingest/internal/config"
	"github.com/park285/ladder-replay-ingest/internal/match"
	"github.com/park285/ladder-replay-ingest/internal/obslog"
	"github.com/park285/ladder-replay-ingest/internal/rules"
	"github.com/park285/ladder-replay-ingest/internal/scheduler"
	"github.com/park285/ladder-replay-ingest/internal/store"
	"github.com/park285/ladder-replay-ingest/internal/watch"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	catalog, err := rules.New(cfg.RulesOverridePath)
	if err != nil {
		log.Fatalf("rules catalog error: %v", err)
	}

	repo, err := store.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init error: %v", err)
	}
	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := repo.EnsureSchema(sctx); err != nil {
		scancel()
		log.Fatalf("schema init error: %v", err)
	}
	scancel()

	ckpt, err := checkpoint.NewStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("checkpoint store init error: %v", err)
	}

	webhook := audit.NewWebhookNotifier(cfg.AuditWebhookURL)
	recorder := audit.NewDBRecorder(repo, webhook)

	materializer := match.NewMaterializer(repo, repo, match.FixedDelta{Points: cfg.RatingDelta}, recorder)
	processor := scheduler.NewReplayProcessor(catalog, materializer, recorder)
	sched := scheduler.New(repo, ckpt, processor, recorder, scheduler.Config{
		Interval:           cfg.SchedulerInterval,
		StabilizationDelay: cfg.StabilizationDelay,
		CycleTimeout:       cfg.CycleTimeout,
		BatchSize:          cfg.BatchSize,
	}, nil)
	watcher := watch.New(cfg.ReplayDir, cfg.StabilizationDelay, repo, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	go watcher.Run(ctx, cfg.SchedulerInterval)
	go sched.Run(ctx)

	obslog.L().Info("ingestd_started",
		zap.String("replay_dir", cfg.ReplayDir),
		zap.Duration("interval", cfg.SchedulerInterval),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Strings("tracked_addons", catalog.TrackedAddonIDs()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	obslog.L().Info("ingestd_stopping")
	cancel()
	_ = ckpt.Close()
	_ = repo.Close()
}
