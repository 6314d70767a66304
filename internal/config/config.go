package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	DatabaseURL string
	RedisURL    string

	ReplayDir string

	RulesOverridePath string
	AuditWebhookURL   string

	SchedulerInterval  time.Duration
	StabilizationDelay time.Duration
	CycleTimeout       time.Duration
	BatchSize          int

	RatingDelta int
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		SchedulerInterval:  30 * time.Second,
		StabilizationDelay: 60 * time.Second,
		CycleTimeout:       5 * time.Minute,
		BatchSize:          10,
		RatingDelta:        16,
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.ReplayDir = strings.TrimSpace(os.Getenv("REPLAY_DIR"))

	cfg.RulesOverridePath = strings.TrimSpace(os.Getenv("RULES_OVERRIDE"))
	cfg.AuditWebhookURL = strings.TrimSpace(os.Getenv("AUDIT_WEBHOOK_URL"))

	if v := strings.TrimSpace(os.Getenv("SCHEDULER_INTERVAL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SchedulerInterval = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("STABILIZATION_DELAY_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.StabilizationDelay = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("CYCLE_TIMEOUT_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CycleTimeout = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("BATCH_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RATING_DELTA")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RatingDelta = n
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.ReplayDir == "" {
		return nil, errors.New("REPLAY_DIR is required")
	}

	return cfg, nil
}
