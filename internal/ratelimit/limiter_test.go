package ratelimit_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/clock"
	"github.com/odyssey-erp/odyssey-auth/internal/ratelimit"
)

var testRule = ratelimit.Rule{Name: "login", MaxAttempts: 3, Window: time.Minute}

type backend struct {
	name  string
	build func(t *testing.T, clk clock.Clock) ratelimit.Limiter
}

func backends() []backend {
	return []backend{
		{name: "memory", build: func(t *testing.T, clk clock.Clock) ratelimit.Limiter {
			return ratelimit.NewMemoryLimiter(clk)
		}},
		{name: "redis", build: func(t *testing.T, clk clock.Clock) ratelimit.Limiter {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return ratelimit.NewRedisLimiter(client, "test", clk)
		}},
	}
}

func TestLimiterWindow(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
			limiter := b.build(t, clk)

			for i := 1; i <= 3; i++ {
				d, err := limiter.Check(ctx, "10.0.0.1", testRule)
				require.NoError(t, err)
				assert.True(t, d.Allowed, "attempt %d", i)
				assert.Equal(t, i, d.Count)
				assert.Zero(t, d.RetryAfter)
			}

			clk.Advance(20 * time.Second)
			d, err := limiter.Check(ctx, "10.0.0.1", testRule)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, 3, d.Count, "blocked attempts do not inflate the counter")
			assert.Equal(t, 40*time.Second, d.RetryAfter)

			d, err = limiter.Check(ctx, "10.0.0.1", testRule)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, 3, d.Count)

			other, err := limiter.Check(ctx, "10.0.0.2", testRule)
			require.NoError(t, err)
			assert.True(t, other.Allowed, "keys are independent")

			clk.Advance(40 * time.Second)
			d, err = limiter.Check(ctx, "10.0.0.1", testRule)
			require.NoError(t, err)
			assert.True(t, d.Allowed, "window lapsed")
			assert.Equal(t, 1, d.Count)
			assert.Equal(t, clk.Now().Add(time.Minute), d.ResetAt)
		})
	}
}

func TestLimiterRulesAreIndependent(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			limiter := b.build(t, clock.NewFake(time.Now()))
			signup := ratelimit.Rule{Name: "signup", MaxAttempts: 1, Window: time.Hour}

			d, err := limiter.Check(ctx, "ip", signup)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			d, err = limiter.Check(ctx, "ip", signup)
			require.NoError(t, err)
			assert.False(t, d.Allowed)

			d, err = limiter.Check(ctx, "ip", testRule)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		})
	}
}

func TestLimiterConcurrentAttemptsNeverExceedMax(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			limiter := b.build(t, clock.NewFake(time.Now()))
			rule := ratelimit.Rule{Name: "burst", MaxAttempts: 5, Window: time.Minute}

			var allowed atomic.Int64
			var g errgroup.Group
			for i := 0; i < 64; i++ {
				g.Go(func() error {
					d, err := limiter.Check(ctx, "shared-key", rule)
					if err != nil {
						return err
					}
					if d.Allowed {
						allowed.Add(1)
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())
			assert.Equal(t, int64(rule.MaxAttempts), allowed.Load())
		})
	}
}

func TestLimiterRejectsInvalidRule(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			limiter := b.build(t, nil)
			_, err := limiter.Check(context.Background(), "k", ratelimit.Rule{Name: "x"})
			assert.Error(t, err)
		})
	}
}

func TestMemoryLimiterPrune(t *testing.T) {
	clk := clock.NewFake(time.Now())
	limiter := ratelimit.NewMemoryLimiter(clk)
	ctx := context.Background()

	_, err := limiter.Check(ctx, "a", testRule)
	require.NoError(t, err)
	clk.Advance(30 * time.Second)
	_, err = limiter.Check(ctx, "b", testRule)
	require.NoError(t, err)
	assert.Equal(t, 2, limiter.Len())

	clk.Advance(31 * time.Second)
	assert.Equal(t, 1, limiter.Prune())
	assert.Equal(t, 1, limiter.Len())
}

func TestMemoryLimiterPruneEveryDropsLapsedKeys(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := clock.NewFake(time.Now())
	limiter := ratelimit.NewMemoryLimiter(clk)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := limiter.Check(ctx, "a", testRule)
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)

	done := make(chan error, 1)
	go func() { done <- limiter.PruneEvery(ctx, time.Millisecond) }()

	assert.Eventually(t, func() bool { return limiter.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRedisLimiterSetsKeyExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.NewRedisLimiter(client, "rl", nil)

	_, err := limiter.Check(context.Background(), "1.2.3.4", testRule)
	require.NoError(t, err)

	assert.True(t, mr.Exists("rl:login:1.2.3.4"))
	assert.Equal(t, time.Minute, mr.TTL("rl:login:1.2.3.4"))

	mr.FastForward(time.Minute + time.Second)
	assert.False(t, mr.Exists("rl:login:1.2.3.4"))
}

func TestMemoryLimiterConcurrentChecksLeaveNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	limiter := ratelimit.NewMemoryLimiter(clock.NewFake(time.Now()))
	rule := ratelimit.Rule{Name: "signup", MaxAttempts: 3, Window: time.Hour}

	var allowed atomic.Int64
	var g errgroup.Group
	for i := 0; i < 32; i++ {
		key := "ip-" + string(rune('a'+i%4))
		g.Go(func() error {
			d, err := limiter.Check(context.Background(), key, rule)
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(4*rule.MaxAttempts), allowed.Load())
}
