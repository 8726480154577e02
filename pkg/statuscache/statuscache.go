// Package statuscache caches batch execution status so the Synthetic
// Execution Worker's pause-guard fast path doesn't hit Postgres on every
// action-loop iteration.
package statuscache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss is returned by Get when the key isn't cached.
var ErrMiss = errors.New("statuscache: miss")

// Status mirrors the subset of batch.status the worker needs to reason
// about without loading the full row.
type Status string

const (
	StatusRunning  Status = "RUNNING"
	StatusPaused   Status = "PAUSED"
	StatusComplete Status = "COMPLETE"
	StatusFailed   Status = "FAILED"
	StatusDeleting Status = "DELETING"
)

// Terminal reports whether s is a status past which no further worker
// action should proceed.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusDeleting:
		return true
	default:
		return false
	}
}

// Cache wraps a Redis client with the batch-status key convention and TTL.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New wraps an existing redis client. ttl defaults to 1h if zero. Writers
// set the cache after (or with) the DB write on every status transition,
// so the TTL only bounds staleness for batches nobody is writing to.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func key(batchID string) string {
	return "batch-status:" + batchID
}

// Set caches the status for batchID with the configured TTL.
func (c *Cache) Set(ctx context.Context, batchID string, status Status) error {
	return c.rdb.Set(ctx, key(batchID), string(status), c.ttl).Err()
}

// Get returns the cached status, or ErrMiss if absent or expired.
func (c *Cache) Get(ctx context.Context, batchID string) (Status, error) {
	val, err := c.rdb.Get(ctx, key(batchID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", err
	}
	return Status(val), nil
}

// Delete removes the cached status, forcing the next reader to fall back
// to the store.
func (c *Cache) Delete(ctx context.Context, batchID string) error {
	return c.rdb.Del(ctx, key(batchID)).Err()
}

// Invalidate is an alias for Delete used at batch status-transition sites,
// named for readability at the call site.
func (c *Cache) Invalidate(ctx context.Context, batchID string) error {
	return c.Delete(ctx, batchID)
}

// Ping checks Redis connectivity, satisfying store.Pinger for readiness
// checks.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
