package redis

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/exitguard/internal/domain"
)

func TestRedis(t *testing.T) {
	client := setupTestClient(t)

	t.Run("price cache", func(t *testing.T) {
		ctx := context.Background()
		cache := NewPriceCache(client, time.Minute)

		_, _, err := cache.GetPrice(ctx, "MSFT")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		ts := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)
		require.NoError(t, cache.SetPrice(ctx, "MSFT", decimal.RequireFromString("412.3456789"), ts))

		price, gotTS, err := cache.GetPrice(ctx, "MSFT")
		require.NoError(t, err)
		assert.Equal(t, "412.3456789", price.String())
		assert.True(t, ts.Equal(gotTS))

		ttl, err := client.Underlying().TTL(ctx, priceKey("MSFT")).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))

		prices, err := cache.GetPrices(ctx, []string{"MSFT", "NOPE"})
		require.NoError(t, err)
		assert.Len(t, prices, 1)
	})

	t.Run("lock", func(t *testing.T) {
		ctx := context.Background()
		locks := NewLockManager(client)

		unlock, err := locks.Acquire(ctx, "position:p1", 5*time.Second)
		require.NoError(t, err)

		_, err = locks.Acquire(ctx, "position:p1", 5*time.Second)
		assert.ErrorIs(t, err, domain.ErrLockHeld)

		unlock()
		unlock()

		again, err := locks.Acquire(ctx, "position:p1", 5*time.Second)
		require.NoError(t, err)
		again()
	})

	t.Run("rate limiter", func(t *testing.T) {
		ctx := context.Background()
		rl := NewRateLimiter(client)

		for i := 0; i < 3; i++ {
			ok, err := rl.Allow(ctx, "quotes:test", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
		}
		ok, err := rl.Allow(ctx, "quotes:test", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		waitCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, rl.Wait(waitCtx, "quotes:test", 3, time.Minute), context.DeadlineExceeded)

		require.NoError(t, rl.Wait(ctx, "quotes:short", 1, 100*time.Millisecond))
		require.NoError(t, rl.Wait(ctx, "quotes:short", 1, 100*time.Millisecond))
	})

	t.Run("signal bus", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		bus := NewSignalBus(client, 100)

		ch, err := bus.Subscribe(ctx, domain.ChannelPositions)
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, domain.ChannelPositions, []byte(`{"type":"position_closed"}`)))

		select {
		case msg := <-ch:
			assert.JSONEq(t, `{"type":"position_closed"}`, string(msg))
		case <-time.After(5 * time.Second):
			t.Fatal("no message received")
		}

		msgs, err := bus.StreamRead(ctx, domain.StreamCloses, "0", 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		require.NoError(t, bus.StreamAppend(ctx, domain.StreamCloses, []byte("a")))
		require.NoError(t, bus.StreamAppend(ctx, domain.StreamCloses, []byte("b")))
		msgs, err = bus.StreamRead(ctx, domain.StreamCloses, "0", 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "b", string(msgs[1].Payload))
	})
}
