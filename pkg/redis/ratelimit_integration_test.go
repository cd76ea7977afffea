//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	t.Run("admits up to the limit per window", func(t *testing.T) {
		limiter := NewRateLimiter(client, "test:window", 2, time.Minute)

		for i := 0; i < 2; i++ {
			res, err := limiter.Allow(ctx)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
		}

		res, err := limiter.Allow(ctx)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Greater(t, res.RetryIn, time.Duration(0))
	})

	t.Run("throttle blocks until it expires", func(t *testing.T) {
		limiter := NewRateLimiter(client, "test:throttle", 100, time.Second)
		require.NoError(t, limiter.Throttle(ctx, 200*time.Millisecond))

		res, err := limiter.Allow(ctx)
		require.NoError(t, err)
		assert.False(t, res.Allowed)

		start := time.Now()
		require.NoError(t, limiter.Wait(ctx))
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("zero limit never waits", func(t *testing.T) {
		limiter := NewRateLimiter(client, "test:off", 0, time.Second)
		require.NoError(t, limiter.Throttle(ctx, time.Minute))
		assert.NoError(t, limiter.Wait(ctx))
	})
}
