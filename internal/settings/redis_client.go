package settings

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisClientAdapter adapts *redis.Client to RedisHashClient.
type RedisClientAdapter struct {
	Client *redis.Client
}

func (a RedisClientAdapter) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return a.Client.HGetAll(ctx, key).Result()
}
