package eventbus

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "noetl:events:"

func channelFor(executionID string) string {
	return channelPrefix + executionID
}

// executionIDFromChannel reverses channelFor, mirroring the teacher's
// extractUsernameFromChannel.
func executionIDFromChannel(channel string) string {
	if !strings.HasPrefix(channel, channelPrefix) {
		return ""
	}
	return strings.TrimPrefix(channel, channelPrefix)
}

// RedisSubscriber listens to noetl:events:* and forwards messages to the
// Hub, so every process running cmd/server (not just the one a worker's
// PublishingStore happened to call) can serve SSE subscribers.
type RedisSubscriber struct {
	redis *redis.Client
	hub   *Hub
}

func NewRedisSubscriber(redisClient *redis.Client, hub *Hub) *RedisSubscriber {
	return &RedisSubscriber{redis: redisClient, hub: hub}
}

// Start blocks, forwarding messages until ctx is cancelled.
func (s *RedisSubscriber) Start(ctx context.Context) error {
	pubsub := s.redis.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			if msg == nil {
				continue
			}
			executionID := executionIDFromChannel(msg.Channel)
			if executionID == "" {
				continue
			}
			s.hub.Publish(executionID, []byte(msg.Payload))
		}
	}
}
