package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/purushoth411/postmanback/domain"
)

// RedisDeduper records idempotency keys of close requests in Redis so every
// instance rejects replays.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(actor domain.ActorID, key string) string {
	return fmt.Sprintf("idem:%d:%s", int64(actor), key)
}

// Add records the key and reports whether it was new.
func (r *RedisDeduper) Add(ctx context.Context, actor domain.ActorID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(actor, key), 1, r.ttl).Result()
}

// Remove forgets a key so a failed request may be retried.
func (r *RedisDeduper) Remove(ctx context.Context, actor domain.ActorID, key string) error {
	return r.client.Del(ctx, r.key(actor, key)).Err()
}
