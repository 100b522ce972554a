package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/clock"
)

type entry struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps counters in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	clock   clock.Clock
}

// NewMemoryLimiter constructs a MemoryLimiter. A nil clock selects the system clock.
func NewMemoryLimiter(clk clock.Clock) *MemoryLimiter {
	if clk == nil {
		clk = clock.System()
	}
	return &MemoryLimiter{entries: make(map[string]*entry), clock: clk}
}

// Check records an attempt for key under rule.
func (l *MemoryLimiter) Check(_ context.Context, key string, rule Rule) (Decision, error) {
	if err := rule.Validate(); err != nil {
		return Decision{}, err
	}
	k := rule.Name + ":" + key

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	e, ok := l.entries[k]
	if !ok || !now.Before(e.resetAt) {
		e = &entry{count: 1, resetAt: now.Add(rule.Window)}
		l.entries[k] = e
		return decide(true, e.count, e.resetAt, now), nil
	}
	if e.count >= rule.MaxAttempts {
		return decide(false, e.count, e.resetAt, now), nil
	}
	e.count++
	return decide(true, e.count, e.resetAt, now), nil
}

// Len returns the number of tracked keys, including lapsed ones not yet reset.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Prune drops entries whose window has lapsed and returns how many were removed.
func (l *MemoryLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	removed := 0
	for k, e := range l.entries {
		if !now.Before(e.resetAt) {
			delete(l.entries, k)
			removed++
		}
	}
	return removed
}

// PruneEvery calls Prune on every tick until ctx is done.
func (l *MemoryLimiter) PruneEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.Prune()
		}
	}
}

var _ Limiter = (*MemoryLimiter)(nil)
