package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/steady-platform/steady/internal/period"
)

const counterKeyPrefix = "quota:used:"

// CounterCache keeps advisory per-record usage counters in Redis so the
// status surface can reflect increments that have not yet been read back
// from the store. Enforcement never trusts it: the usage log remains the
// source of truth and cache loss is harmless.
type CounterCache struct {
	rdb redis.Cmdable
}

// NewCounterCache creates a counter cache backed by the given Redis client.
func NewCounterCache(rdb redis.Cmdable) *CounterCache {
	return &CounterCache{rdb: rdb}
}

// Add increments the cached counter for rec and pins its expiry to the
// record's next window reset.
func (c *CounterCache) Add(ctx context.Context, rec *Record, delta int64) error {
	key := counterKeyPrefix + rec.ID.String()
	resetAt := period.NextReset(rec.Period, rec.WindowAnchor)

	pipe := c.rdb.Pipeline()
	pipe.IncrBy(ctx, key, delta)
	pipe.ExpireAt(ctx, key, resetAt)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("incrementing cached counter: %w", err)
	}
	return nil
}

// Get returns the cached counter for a record, with ok=false when no
// counter is cached.
func (c *CounterCache) Get(ctx context.Context, id uuid.UUID) (int64, bool, error) {
	val, err := c.rdb.Get(ctx, counterKeyPrefix+id.String()).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("reading cached counter: %w", err)
	}
	return val, true, nil
}

// Clear drops the cached counter for a record.
func (c *CounterCache) Clear(ctx context.Context, id uuid.UUID) error {
	if err := c.rdb.Del(ctx, counterKeyPrefix+id.String()).Err(); err != nil {
		return fmt.Errorf("clearing cached counter: %w", err)
	}
	return nil
}
