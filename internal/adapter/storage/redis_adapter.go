package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
	"github.com/rl1809/carbon-exchange/internal/port"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	idempotencyKeyTTL    = 24 * time.Hour

	// EventStream is the Redis stream indexers subscribe to.
	EventStream     = "carbon:events"
	eventStreamSize = 100000
)

var (
	_ port.CacheRepository = (*RedisAdapter)(nil)
	_ port.EventPublisher  = (*RedisAdapter)(nil)
)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

// Publish appends e to the event stream, trimming it to roughly
// eventStreamSize entries.
func (r *RedisAdapter) Publish(ctx context.Context, e domain.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %d: %w", e.Seq, err)
	}

	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: EventStream,
		MaxLen: eventStreamSize,
		Approx: true,
		Values: map[string]any{
			"seq":   e.Seq,
			"type":  string(e.Type),
			"event": body,
		},
	}).Err()
}
