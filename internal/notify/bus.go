// Package notify provides the broadcast channel that announces when a job's
// result becomes available. The bus is hot: notifications are published
// whether or not anyone is subscribed, and a subscriber only sees events
// published after its subscription became active.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/queryjobs/internal/telemetry"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing notifications.
const subscriberBuffer = 16

// Notification announces that the result for a ticket is ready. The payload
// itself lives in the result store; this is just the wake-up signal.
type Notification struct {
	Ticket string
}

// Subscription is one subscriber's view of the bus. Close is idempotent and
// must be called on every exit path so the bus can release the subscriber.
type Subscription interface {
	// C returns the notification channel. It is closed when the
	// subscription is closed.
	C() <-chan Notification
	Close()
}

// Bus is a multicast, at-most-once-per-subscriber broadcast of result-ready
// notifications. Delivery is guaranteed only for notifications published
// after Subscribe returns.
type Bus interface {
	Publish(ctx context.Context, ticket string) error
	Subscribe(ctx context.Context) (Subscription, error)
}

// ChannelBus is the in-process Bus, fanning out over buffered channels.
// Publish never blocks: a subscriber whose buffer is full misses the
// notification, which is logged and counted.
type ChannelBus struct {
	mu     sync.RWMutex
	subs   map[*channelSub]struct{}
	closed bool
}

// NewChannelBus creates an in-process notification bus.
func NewChannelBus() *ChannelBus {
	return &ChannelBus{subs: make(map[*channelSub]struct{})}
}

// Publish fans the notification out to every active subscriber.
func (b *ChannelBus) Publish(ctx context.Context, ticket string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m := telemetry.GetMetrics()
	m.NotificationsPublishedTotal.Add(ctx, 1)

	for sub := range b.subs {
		select {
		case sub.ch <- Notification{Ticket: ticket}:
		default:
			// Subscriber buffer full, it misses this notification.
			m.NotificationsDroppedTotal.Add(ctx, 1)
			log.Warn().Str("ticket", ticket).Msg("Subscriber channel full, dropping notification")
		}
	}
	return nil
}

// Subscribe registers a new subscriber. The subscription is active, and
// guaranteed delivery of later notifications starts, before Subscribe
// returns.
func (b *ChannelBus) Subscribe(ctx context.Context) (Subscription, error) {
	sub := &channelSub{
		bus: b,
		ch:  make(chan Notification, subscriberBuffer),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	telemetry.GetMetrics().ActiveSubscriptions.Add(ctx, 1)

	return sub, nil
}

// ActiveSubscribers returns the number of live subscriptions. Used by tests
// to assert that waiters never leak subscriptions.
func (b *ChannelBus) ActiveSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

type channelSub struct {
	bus  *ChannelBus
	ch   chan Notification
	once sync.Once
}

func (s *channelSub) C() <-chan Notification {
	return s.ch
}

func (s *channelSub) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()

		telemetry.GetMetrics().ActiveSubscriptions.Add(context.Background(), -1)

		close(s.ch)
	})
}
