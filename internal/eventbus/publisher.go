package eventbus

import (
	"context"
	"encoding/json"

	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/model"
)

// Publisher is satisfied by common/redis.Client, kept narrow so this
// package only depends on the one method it needs.
type Publisher interface {
	PublishEvent(ctx context.Context, channel string, message string) error
}

// PublishingStore wraps an eventlog.Store and publishes every successfully
// emitted event to Redis on channel noetl:events:{execution_id}, so any
// cmd/server instance's RedisSubscriber can fan it out over SSE (SPEC_FULL
// §3.6) without the Event Log itself knowing about the event bus.
type PublishingStore struct {
	eventlog.Store
	publisher Publisher
}

func NewPublishingStore(inner eventlog.Store, publisher Publisher) *PublishingStore {
	return &PublishingStore{Store: inner, publisher: publisher}
}

func (s *PublishingStore) Emit(ctx context.Context, e model.Event) error {
	if err := s.Store.Emit(ctx, e); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil // the event was recorded; a bad publish shouldn't fail the emit
	}
	_ = s.publisher.PublishEvent(ctx, channelFor(e.ExecutionID), string(data))
	return nil
}
