package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maauso/media-ingest/internal/content"
)

// Counter is the subset of *redis.Client used by RedisReserver.
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Decr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Compile-time check that RedisReserver implements Reserver.
var _ Reserver = (*RedisReserver)(nil)

// RedisReserver claims slots with INCR on a per-owner, per-type key for the
// current fixed window. INCR is atomic, so concurrent submissions are ordered
// by Redis and at most limit of them succeed per window.
type RedisReserver struct {
	client Counter
	prefix string
}

// NewRedisReserver creates a reserver. prefix namespaces the keys.
func NewRedisReserver(client Counter, prefix string) *RedisReserver {
	if prefix == "" {
		prefix = "quota"
	}
	return &RedisReserver{client: client, prefix: prefix}
}

// Reserve claims a slot, returning false when the window is full.
func (r *RedisReserver) Reserve(ctx context.Context, ownerID string, t content.Type, limit int, window time.Duration, now time.Time) (bool, error) {
	key := r.key(ownerID, t, window, now)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("expire %s: %w", key, err)
		}
	}

	if count > int64(limit) {
		// Give the slot back so the counter keeps tracking accepted submissions.
		if err := r.client.Decr(ctx, key).Err(); err != nil {
			return false, fmt.Errorf("decr %s: %w", key, err)
		}
		return false, nil
	}
	return true, nil
}

func (r *RedisReserver) key(ownerID string, t content.Type, window time.Duration, now time.Time) string {
	start := now.UTC().Truncate(window).Unix()
	return fmt.Sprintf("%s:%s:%s:%d", r.prefix, t, ownerID, start)
}
