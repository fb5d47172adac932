// Package progress keeps a live, best-effort view of how far a running
// notebook has advanced, keyed by execution id. It backs the status endpoint
// between the running and terminal history-record transitions.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CellProgress is the last observed cell position of a run.
type CellProgress struct {
	Cell          int       `json:"cell"`
	Total         int       `json:"total,omitempty"`
	FirstCellDone bool      `json:"first_cell_done"`
	ObservedAt    time.Time `json:"observed_at"`
}

const keyPrefix = "nbrunner:progress:"

// defaultTTL keeps stale entries from outliving any plausible run.
const defaultTTL = 24 * time.Hour

type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTracker(addr string) *RedisTracker {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &RedisTracker{client: rdb, ttl: defaultTTL}
}

func (t *RedisTracker) Record(ctx context.Context, executionID uint, p CellProgress) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return t.client.Set(ctx, key(executionID), b, t.ttl).Err()
}

func (t *RedisTracker) Get(ctx context.Context, executionID uint) (CellProgress, bool) {
	val, err := t.client.Get(ctx, key(executionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CellProgress{}, false
	} else if err != nil {
		return CellProgress{}, false
	}
	var p CellProgress
	if err := json.Unmarshal(val, &p); err != nil {
		return CellProgress{}, false
	}
	return p, true
}

func (t *RedisTracker) Clear(ctx context.Context, executionID uint) {
	_ = t.client.Del(ctx, key(executionID)).Err()
}

func key(executionID uint) string {
	return fmt.Sprintf("%s%d", keyPrefix, executionID)
}
