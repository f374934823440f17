package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/smallbiznis/energyledger/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_AllowsUpToLimitThenDenies(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	limiter, err := NewMemoryLimiter(Policy{Name: "upload", Limit: 5, Window: 15 * time.Minute}, clk)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i+1)
		assert.Equal(t, 5-i-1, res.Remaining)
		assert.Equal(t, 5, res.Limit)
	}

	res, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.InDelta(t, (3 * time.Minute).Seconds(), res.RetryAfter.Seconds(), 1)

	other, err := limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are limited independently")
}

func TestMemoryLimiter_RefillsOverTime(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	limiter, err := NewMemoryLimiter(Policy{Name: "api", Limit: 100, Window: time.Minute}, clk)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		res, err := limiter.Allow(ctx, "ip")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := limiter.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	clk.Advance(700 * time.Millisecond)
	res, err = limiter.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "one token refills every 600ms")

	res, err = limiter.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, res.Allowed, "a denied request does not consume a token")
}

func TestMemoryLimiter_DeniedRequestDoesNotDelayRecovery(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	limiter, err := NewMemoryLimiter(Policy{Name: "api", Limit: 1, Window: time.Second}, clk)
	require.NoError(t, err)
	ctx := context.Background()

	res, _ := limiter.Allow(ctx, "ip")
	require.True(t, res.Allowed)
	for i := 0; i < 10; i++ {
		res, _ = limiter.Allow(ctx, "ip")
		require.False(t, res.Allowed)
	}

	clk.Advance(time.Second)
	res, err = limiter.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiter_SweepsIdleKeys(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	limiter, err := NewMemoryLimiter(Policy{Name: "api", Limit: 10, Window: time.Minute}, clk)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < sweepThreshold; i++ {
		_, err := limiter.Allow(ctx, fmt.Sprintf("ip-%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, sweepThreshold, limiter.size())

	clk.Advance(2 * time.Minute)
	_, err = limiter.Allow(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.size())
}

func TestMemoryLimiter_Validation(t *testing.T) {
	_, err := NewMemoryLimiter(Policy{Name: "bad", Limit: 0, Window: time.Minute}, nil)
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = NewMemoryLimiter(Policy{Name: "bad", Limit: 1, Window: 0}, nil)
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	limiter, err := NewMemoryLimiter(Policy{Name: "ok", Limit: 1, Window: time.Minute}, nil)
	require.NoError(t, err)
	_, err = limiter.Allow(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestIdleTTL(t *testing.T) {
	assert.Equal(t, 20*time.Second, idleTTL(Policy{Name: "api", Limit: 10, Window: 10 * time.Second}))
	assert.Equal(t, 2*time.Minute, idleTTL(Policy{Name: "api", Limit: 100, Window: time.Minute}))
	assert.Equal(t, time.Second, idleTTL(Policy{Name: "burst", Limit: 1, Window: time.Millisecond}))
}

func TestRedisLimiterRequiresClient(t *testing.T) {
	_, err := NewRedisLimiter(nil, Policy{Name: "api", Limit: 1, Window: time.Minute})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewRedisLimiters(nil, Policy{Name: "api", Limit: 1, Window: time.Minute}, Policy{Name: "upload", Limit: 1, Window: time.Minute})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestLimitersEnabled(t *testing.T) {
	var none *Limiters
	assert.False(t, none.Enabled())

	limiters, err := NewMemoryLimiters(nil,
		Policy{Name: PolicyAPI, Limit: 100, Window: time.Minute},
		Policy{Name: PolicyUpload, Limit: 5, Window: 15 * time.Minute},
	)
	require.NoError(t, err)
	assert.True(t, limiters.Enabled())
	assert.Equal(t, 5, limiters.Upload.Policy().Limit)
}
