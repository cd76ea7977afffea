//go:build integration

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "6379")
	require.NoError(t, err)

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	client, err := NewClient(ctx, Config{Host: host, Port: port.Int()}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLocker(t *testing.T) {
	client := startRedis(t)
	locker := NewLocker(client, "")
	ctx := context.Background()

	t.Run("second acquire fails until release", func(t *testing.T) {
		lock, err := locker.Acquire(ctx, "sync", time.Minute)
		require.NoError(t, err)

		_, err = locker.Acquire(ctx, "sync", time.Minute)
		assert.ErrorIs(t, err, ErrLockNotAcquired)

		require.NoError(t, lock.Release(ctx))
		assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)

		again, err := locker.Acquire(ctx, "sync", time.Minute)
		require.NoError(t, err)
		require.NoError(t, again.Release(ctx))
	})

	t.Run("try acquire waits for expiry", func(t *testing.T) {
		_, err := locker.Acquire(ctx, "expiring", 200*time.Millisecond)
		require.NoError(t, err)

		lock, err := locker.TryAcquire(ctx, "expiring", time.Minute, 2*time.Second)
		require.NoError(t, err)
		require.NoError(t, lock.Release(ctx))
	})

	t.Run("with lock skips fn when held", func(t *testing.T) {
		held, err := locker.Acquire(ctx, "busy", time.Minute)
		require.NoError(t, err)
		defer held.Release(ctx)

		ran := false
		err = locker.WithLock(ctx, "busy", time.Minute, func(context.Context) error {
			ran = true
			return nil
		})
		assert.True(t, errors.Is(err, ErrLockNotAcquired))
		assert.False(t, ran)
	})

	t.Run("extend keeps ownership", func(t *testing.T) {
		lock, err := locker.Acquire(ctx, "extend", 200*time.Millisecond)
		require.NoError(t, err)
		require.NoError(t, lock.Extend(ctx, time.Minute))
		time.Sleep(300 * time.Millisecond)
		require.NoError(t, lock.Release(ctx))
	})

	t.Run("with lock renews while fn runs", func(t *testing.T) {
		err := locker.WithLock(ctx, "long", 300*time.Millisecond, func(ctx context.Context) error {
			time.Sleep(time.Second)
			_, err := locker.Acquire(ctx, "long", time.Minute)
			assert.ErrorIs(t, err, ErrLockNotAcquired)
			return ctx.Err()
		})
		require.NoError(t, err)

		lock, err := locker.Acquire(ctx, "long", time.Minute)
		require.NoError(t, err)
		require.NoError(t, lock.Release(ctx))
	})

	t.Run("with lock cancels fn when the lock is lost", func(t *testing.T) {
		err := locker.WithLock(ctx, "lost", 300*time.Millisecond, func(ctx context.Context) error {
			require.NoError(t, client.rdb.Del(context.Background(), "fern:lock:lost").Err())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		})
		assert.ErrorIs(t, err, ErrLockNotHeld)
	})
}
