package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"preview/api/internal/realtime"
)

// RedisChannel fans preview pushes out over Redis pub/sub so every API
// replica can serve a viewer's stream.
type RedisChannel struct {
	client *redis.Client
	prefix string
}

func NewRedisChannel(client *redis.Client) *RedisChannel {
	return &RedisChannel{client: client, prefix: "preview-updates:"}
}

func (c *RedisChannel) Publish(ctx context.Context, key string, payload []byte) error {
	if err := c.client.Publish(ctx, c.prefix+key, payload).Err(); err != nil {
		return fmt.Errorf("publish preview update: %w", err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so nothing
// published afterwards is missed.
func (c *RedisChannel) Subscribe(ctx context.Context, key string) (realtime.Subscription, error) {
	pubsub := c.client.Subscribe(ctx, c.prefix+key)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe preview updates: %w", err)
	}

	sub := &redisSubscription{pubsub: pubsub, out: make(chan []byte, 16), done: make(chan struct{})}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) C() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
