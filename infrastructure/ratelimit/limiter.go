package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crosspost/domain/model"
	"crosspost/infrastructure/configuration"
	"crosspost/infrastructure/logger"

	"golang.org/x/sync/semaphore"
)

// Limit is a rolling call budget plus a cap on simultaneous calls.
type Limit struct {
	Calls      int
	Interval   time.Duration
	Concurrent int64
}

// DefaultLimits are the published budgets of the supported marketplaces.
var DefaultLimits = map[string]Limit{
	"ebay":     {Calls: 5000, Interval: 24 * time.Hour, Concurrent: 10},
	"poshmark": {Calls: 1000, Interval: time.Hour, Concurrent: 5},
	"mercari":  {Calls: 2000, Interval: time.Hour, Concurrent: 5},
}

type bucket struct {
	mu    sync.Mutex
	limit Limit
	calls []time.Time
	slots *semaphore.Weighted
}

// Limiter admits marketplace calls per platform. Platforms never share a lock.
type Limiter struct {
	buckets map[string]*bucket
	now     func() time.Time
}

func NewLimiter(limits map[string]Limit) *Limiter {
	l := &Limiter{buckets: make(map[string]*bucket, len(limits)), now: time.Now}
	for name, lim := range limits {
		if lim.Concurrent < 1 {
			lim.Concurrent = 1
		}
		l.buckets[name] = &bucket{limit: lim, slots: semaphore.NewWeighted(lim.Concurrent)}
	}
	return l
}

func (l *Limiter) bucket(platform string) *bucket {
	b, ok := l.buckets[platform]
	if !ok {
		panic(fmt.Sprintf("ratelimit: no limit configured for platform %q", platform))
	}
	return b
}

// purge drops timestamps that left the window. Caller holds b.mu.
func (b *bucket) purge(now time.Time) {
	cutoff := now.Add(-b.limit.Interval)
	i := 0
	for i < len(b.calls) && !b.calls[i].After(cutoff) {
		i++
	}
	b.calls = b.calls[i:]
}

func (b *bucket) unreserve(at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.calls) - 1; i >= 0; i-- {
		if b.calls[i].Equal(at) {
			b.calls = append(b.calls[:i], b.calls[i+1:]...)
			return
		}
	}
}

// Admit reserves a call in the platform's window and waits for a concurrency slot.
// An exhausted window is rejected immediately with a RateLimitExceeded failure.
// Every successful Admit must be paired with Release.
func (l *Limiter) Admit(ctx context.Context, platform string) error {
	b := l.bucket(platform)

	b.mu.Lock()
	now := l.now()
	b.purge(now)
	if len(b.calls) >= b.limit.Calls {
		reset := b.calls[0].Add(b.limit.Interval)
		b.mu.Unlock()
		f := model.NewFailure(model.KindRateLimit, platform, "", fmt.Errorf("ratelimit: %d calls per %s used", b.limit.Calls, b.limit.Interval))
		f.RetryDelay = reset.Sub(now)
		return f
	}
	b.calls = append(b.calls, now)
	b.mu.Unlock()

	if err := b.slots.Acquire(ctx, 1); err != nil {
		b.unreserve(now)
		return fmt.Errorf("ratelimit: waiting for %s slot: %w", platform, err)
	}
	return nil
}

// Release frees one concurrency slot, waking the oldest waiter.
func (l *Limiter) Release(platform string) {
	l.bucket(platform).slots.Release(1)
}

// Do runs fn inside an admitted slot.
func (l *Limiter) Do(ctx context.Context, platform string, fn func(context.Context) error) error {
	if err := l.Admit(ctx, platform); err != nil {
		return err
	}
	defer l.Release(platform)
	return fn(ctx)
}

func (l *Limiter) Remaining(platform string) int {
	b := l.bucket(platform)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.purge(l.now())
	return b.limit.Calls - len(b.calls)
}

// ResetAt is when the oldest call in the window expires; now if the window is empty.
func (l *Limiter) ResetAt(platform string) time.Time {
	b := l.bucket(platform)
	b.mu.Lock()
	defer b.mu.Unlock()
	now := l.now()
	b.purge(now)
	if len(b.calls) == 0 {
		return now
	}
	return b.calls[0].Add(b.limit.Interval)
}

func (l *Limiter) Platforms() []string {
	out := make([]string, 0, len(l.buckets))
	for name := range l.buckets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LogBudgets writes the remaining budget of every platform.
func (l *Limiter) LogBudgets() {
	for _, p := range l.Platforms() {
		logger.GetLogger().WithField("platform", p).WithField("remaining", l.Remaining(p)).Debug("rate limit budget")
	}
}

// LimitsFromConfig reads each marketplace's budget, keeping the defaults for unset fields.
func LimitsFromConfig(markets configuration.Marketplaces) map[string]Limit {
	out := make(map[string]Limit, len(DefaultLimits))
	for name, m := range markets.All() {
		lim := DefaultLimits[name]
		if m.Calls > 0 {
			lim.Calls = m.Calls
		}
		if m.IntervalSeconds > 0 {
			lim.Interval = m.Interval()
		}
		if m.Concurrent > 0 {
			lim.Concurrent = m.Concurrent
		}
		out[name] = lim
	}
	return out
}
