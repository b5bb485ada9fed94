package notify

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type RedisBroker struct {
	client redis.UniversalClient
}

func NewRedisBroker(client redis.UniversalClient) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, userID string, event StatusEvent) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, UserTopic(userID), payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, UserTopic(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan StatusEvent, 16),
		done:   make(chan struct{}),
	}
	go sub.forward()
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	events chan StatusEvent
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Events() <-chan StatusEvent {
	return s.events
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

func (s *redisSubscription) forward() {
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		event, err := decodeEvent([]byte(msg.Payload))
		if err != nil {
			logrus.WithError(err).WithField("channel", msg.Channel).Warn("Dropping malformed status event")
			continue
		}
		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}
