package outcome

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisClientAdapter adapts *redis.Client to RedisChannelClient.
type RedisClientAdapter struct {
	Client *redis.Client
}

func (a RedisClientAdapter) Publish(ctx context.Context, channel string, message []byte) error {
	return a.Client.Publish(ctx, channel, message).Err()
}

// Subscribe registers handler for messages on channel and processes them
// on a dedicated goroutine until the subscription is closed.
func (a RedisClientAdapter) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	sub := a.Client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("outcome: subscribe to %s: %w", channel, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()

	return func() { sub.Close() }, nil
}
