package webhook

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper drops events that were already processed. Providers retry
// aggressively, so the same event id can arrive many times.
type Deduper interface {
	// MarkSeen returns true when this is the first sighting of the id.
	MarkSeen(ctx context.Context, eventID string) (bool, error)
	// Forget releases an id so the provider's redelivery of it is
	// processed again. Called when handling the event failed.
	Forget(ctx context.Context, eventID string) error
}

// RedisDeduper remembers event ids with SETNX and a TTL. Provider
// retry windows are hours, so a day of memory covers them.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	return d.client.SetNX(ctx, "webhook:event:"+eventID, 1, d.ttl).Result()
}

func (d *RedisDeduper) Forget(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, "webhook:event:"+eventID).Err()
}
