package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay publishes through Redis pub/sub so that every server
// instance sees every topic. Each instance runs one pattern subscription
// and hands what it receives to its local Hub, including its own
// publications.
type RedisRelay struct {
	rdb    *redis.Client
	hub    *Hub
	prefix string
	logger *zap.Logger
}

func NewRedisRelay(rdb *redis.Client, hub *Hub, prefix string, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{rdb: rdb, hub: hub, prefix: prefix, logger: logger}
}

// Publish sends payload to the Redis channel for topic.
func (r *RedisRelay) Publish(ctx context.Context, topic string, payload json.RawMessage) error {
	if err := r.rdb.Publish(ctx, r.prefix+topic, []byte(payload)).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Run relays Redis messages into the hub until ctx is cancelled. ready,
// if non-nil, is closed once Redis has confirmed the subscription.
func (r *RedisRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := r.rdb.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	// Receive blocks until Redis confirms the subscription.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	r.logger.Info("redis relay subscribed", zap.String("pattern", r.prefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			topic, found := strings.CutPrefix(msg.Channel, r.prefix)
			if !found {
				continue
			}
			n := r.hub.Deliver(topic, json.RawMessage(msg.Payload))
			r.logger.Debug("relayed message", zap.String("topic", topic), zap.Int("subscribers", n))
		}
	}
}
