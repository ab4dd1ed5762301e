package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crosspost/domain/model"
	"crosspost/infrastructure/configuration"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(limits map[string]Limit) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	l := NewLimiter(limits)
	l.now = clock.Now
	return l, clock
}

func TestLimiter_RejectsCallBeyondBudget(t *testing.T) {
	l, _ := newTestLimiter(map[string]Limit{"poshmark": {Calls: 3, Interval: time.Hour, Concurrent: 10}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Admit(ctx, "poshmark"))
		l.Release("poshmark")
	}

	err := l.Admit(ctx, "poshmark")
	require.Error(t, err)
	var f *model.Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, model.KindRateLimit, f.Kind)
	assert.True(t, f.Retryable)
	assert.Equal(t, time.Hour, f.RetryDelay)
	assert.Equal(t, 0, l.Remaining("poshmark"))
}

func TestLimiter_ConcurrentAdmissionsRespectBudget(t *testing.T) {
	l, _ := newTestLimiter(map[string]Limit{"mercari": {Calls: 5, Interval: time.Hour, Concurrent: 10}})

	var admitted, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Admit(context.Background(), "mercari"); err != nil {
				atomic.AddInt32(&rejected, 1)
				return
			}
			atomic.AddInt32(&admitted, 1)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 5, admitted)
	assert.EqualValues(t, 1, rejected)
}

func TestLimiter_WindowSlides(t *testing.T) {
	l, clock := newTestLimiter(map[string]Limit{"ebay": {Calls: 2, Interval: time.Minute, Concurrent: 2}})
	ctx := context.Background()

	require.NoError(t, l.Admit(ctx, "ebay"))
	l.Release("ebay")
	clock.Advance(30 * time.Second)
	require.NoError(t, l.Admit(ctx, "ebay"))
	l.Release("ebay")
	require.Error(t, l.Admit(ctx, "ebay"))

	assert.Equal(t, clock.Now().Add(30*time.Second), l.ResetAt("ebay"))

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, l.Remaining("ebay"))
	require.NoError(t, l.Admit(ctx, "ebay"))
	l.Release("ebay")
}

func TestLimiter_WaitsForConcurrencySlot(t *testing.T) {
	l, _ := newTestLimiter(map[string]Limit{"poshmark": {Calls: 100, Interval: time.Hour, Concurrent: 1}})
	ctx := context.Background()

	require.NoError(t, l.Admit(ctx, "poshmark"))

	admitted := make(chan struct{})
	go func() {
		if err := l.Admit(ctx, "poshmark"); err == nil {
			close(admitted)
		}
	}()

	select {
	case <-admitted:
		t.Fatal("second caller admitted while the only slot was held")
	case <-time.After(50 * time.Millisecond):
	}

	l.Release("poshmark")
	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Release")
	}
	l.Release("poshmark")
}

func TestLimiter_CancelledWaitReturnsReservation(t *testing.T) {
	l, _ := newTestLimiter(map[string]Limit{"poshmark": {Calls: 10, Interval: time.Hour, Concurrent: 1}})

	require.NoError(t, l.Admit(context.Background(), "poshmark"))
	assert.Equal(t, 9, l.Remaining("poshmark"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Admit(ctx, "poshmark") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-done
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 9, l.Remaining("poshmark"))
	l.Release("poshmark")
}

func TestLimiter_PlatformsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(map[string]Limit{
		"poshmark": {Calls: 1, Interval: time.Hour, Concurrent: 1},
		"mercari":  {Calls: 1, Interval: time.Hour, Concurrent: 1},
	})
	ctx := context.Background()

	require.NoError(t, l.Admit(ctx, "poshmark"))
	require.Error(t, l.Admit(ctx, "poshmark"))
	require.NoError(t, l.Admit(ctx, "mercari"))
	assert.Equal(t, []string{"mercari", "poshmark"}, l.Platforms())
}

func TestLimiter_DoReleasesSlot(t *testing.T) {
	l, _ := newTestLimiter(map[string]Limit{"mercari": {Calls: 10, Interval: time.Hour, Concurrent: 1}})
	ctx := context.Background()

	boom := errors.New("boom")
	err := l.Do(ctx, "mercari", func(context.Context) error { return boom })
	assert.Equal(t, boom, err)

	require.NoError(t, l.Do(ctx, "mercari", func(context.Context) error { return nil }))
}

func TestLimiter_UnknownPlatformPanics(t *testing.T) {
	l, _ := newTestLimiter(DefaultLimits)
	assert.Panics(t, func() { _ = l.Admit(context.Background(), "etsy") })
}

func TestLimitsFromConfig(t *testing.T) {
	limits := LimitsFromConfig(configuration.Marketplaces{
		Poshmark: configuration.Marketplace{Calls: 50, IntervalSeconds: 60},
	})
	assert.Equal(t, Limit{Calls: 50, Interval: time.Minute, Concurrent: 5}, limits["poshmark"])
	assert.Equal(t, DefaultLimits["ebay"], limits["ebay"])
	assert.Len(t, limits, 3)
}
