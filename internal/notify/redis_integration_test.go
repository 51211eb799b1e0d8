//go:build integration

package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedisContainer(t *testing.T, ctx context.Context) (*redis.Client, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "redis:8-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", host, port.Port()),
	})
	require.NoError(t, client.Ping(ctx).Err())

	cleanup := func() {
		_ = client.Close()
		_ = container.Terminate(ctx)
	}

	return client, cleanup
}

func TestIntegration_RedisBus(t *testing.T) {
	ctx := context.Background()
	client, cleanup := setupRedisContainer(t, ctx)
	defer cleanup()

	bus := NewRedisBus(client, "queryjobs.test")

	t.Run("publish reaches all subscribers", func(t *testing.T) {
		sub1, err := bus.Subscribe(ctx)
		require.NoError(t, err)
		defer sub1.Close()

		sub2, err := bus.Subscribe(ctx)
		require.NoError(t, err)
		defer sub2.Close()

		require.NoError(t, bus.Publish(ctx, "qj_fanout"))

		for _, sub := range []Subscription{sub1, sub2} {
			select {
			case n := <-sub.C():
				require.Equal(t, "qj_fanout", n.Ticket)
			case <-time.After(5 * time.Second):
				t.Fatal("subscriber did not receive notification")
			}
		}
	})

	t.Run("delivery starts when subscribe returns", func(t *testing.T) {
		// No subscriber yet, so this publish is lost.
		require.NoError(t, bus.Publish(ctx, "qj_early"))

		sub, err := bus.Subscribe(ctx)
		require.NoError(t, err)
		defer sub.Close()

		// The SUBSCRIBE ack was awaited, so the next publish must be seen.
		require.NoError(t, bus.Publish(ctx, "qj_late"))

		select {
		case n := <-sub.C():
			require.Equal(t, "qj_late", n.Ticket)
		case <-time.After(5 * time.Second):
			t.Fatal("subscriber did not receive post-subscription notification")
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		sub, err := bus.Subscribe(ctx)
		require.NoError(t, err)

		sub.Close()
		sub.Close()

		// The forward goroutine closes the channel once pubsub shuts down.
		select {
		case _, ok := <-sub.C():
			require.False(t, ok)
		case <-time.After(5 * time.Second):
			t.Fatal("subscription channel was not closed")
		}
	})
}
