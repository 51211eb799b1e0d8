package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/wolfeidau/queryjobs/internal/telemetry"
)

// RedisBus is a Bus backed by Redis pub/sub, for deployments where the
// executor and the jobs endpoint run in separate processes. Redis pub/sub
// has the same hot, at-most-once semantics the Bus contract requires:
// messages published while nobody is subscribed are gone.
type RedisBus struct {
	client  *redis.Client
	channel string
}

// NewRedisBus creates a bus publishing on the given pub/sub channel.
func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	return &RedisBus{client: client, channel: channel}
}

// Publish broadcasts the ticket to all current subscribers.
func (b *RedisBus) Publish(ctx context.Context, ticket string) error {
	if err := b.client.Publish(ctx, b.channel, ticket).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	telemetry.GetMetrics().NotificationsPublishedTotal.Add(ctx, 1)
	return nil
}

// Subscribe opens a Redis subscription. The subscription confirmation is
// awaited before returning so that delivery guarantees start at return, as
// the Bus contract requires.
func (b *RedisBus) Subscribe(ctx context.Context) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)

	// Block until the SUBSCRIBE is acknowledged. Without this a result
	// published immediately after Subscribe returns could still be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	sub := &redisSub{
		pubsub: pubsub,
		ch:     make(chan Notification, subscriberBuffer),
	}

	go sub.forward()

	telemetry.GetMetrics().ActiveSubscriptions.Add(ctx, 1)

	return sub, nil
}

type redisSub struct {
	pubsub *redis.PubSub
	ch     chan Notification
	once   sync.Once
}

// forward copies redis messages onto the subscription channel until the
// underlying pubsub is closed. Sends never block so a consumer that has
// already resolved can't wedge this goroutine; a full buffer loses the
// notification, matching the in-process bus.
func (s *redisSub) forward() {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		select {
		case s.ch <- Notification{Ticket: msg.Payload}:
		default:
			telemetry.GetMetrics().NotificationsDroppedTotal.Add(context.Background(), 1)
		}
	}
}

func (s *redisSub) C() <-chan Notification {
	return s.ch
}

func (s *redisSub) Close() {
	s.once.Do(func() {
		_ = s.pubsub.Close()
		telemetry.GetMetrics().ActiveSubscriptions.Add(context.Background(), -1)
	})
}
