// Package checkpoint persists the scheduler's crash-recovery marker: the
// newest detected_at whose batch was fully integrated. Read at cycle start,
// written after a batch with at least one success. A failed write is
// tolerated and merely risks reprocessing after a restart.
package checkpoint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const checkpointKey = "ingest:checkpoint"

type Store struct {
	rdb *redis.Client
}

func NewStore(redisURL string) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// Get returns the stored checkpoint, or the zero time when none exists yet.
func (s *Store) Get(ctx context.Context) (time.Time, error) {
	raw, err := s.rdb.Get(ctx, checkpointKey).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse checkpoint %q: %w", raw, err)
	}
	return t, nil
}

// Set advances the checkpoint. Never moves it backwards: a stale value would
// widen the reprocessing window for no reason. The read-then-write guard is
// not atomic; the scheduler is the single writer. A second scheduler instance
// would need a WATCH or Lua compare-and-set here.
func (s *Store) Set(ctx context.Context, t time.Time) error {
	cur, err := s.Get(ctx)
	if err == nil && t.Before(cur) {
		return nil
	}
	return s.rdb.Set(ctx, checkpointKey, t.UTC().Format(time.RFC3339Nano), 0).Err()
}
