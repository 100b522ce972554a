// Package ratelimit throttles attempts per key over a fixed window.
//
// An entry is created with count 1 on the first attempt and lives until its
// reset time. Attempts inside the window increment the count until it reaches
// the rule's maximum; further attempts are blocked without incrementing. Lapsed
// entries are reset lazily on the next attempt.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Rule configures a throttle.
type Rule struct {
	Name        string
	MaxAttempts int
	Window      time.Duration
}

// Validate reports whether the rule is usable.
func (r Rule) Validate() error {
	if r.MaxAttempts <= 0 {
		return errors.New("ratelimit: max attempts must be positive")
	}
	if r.Window <= 0 {
		return errors.New("ratelimit: window must be positive")
	}
	return nil
}

// Decision is the outcome of a single Check.
type Decision struct {
	Allowed bool
	Count   int
	ResetAt time.Time
	// RetryAfter is zero when the attempt was allowed.
	RetryAfter time.Duration
}

// Limiter counts attempts per key. Implementations must make the
// read-compare-increment of one key atomic.
type Limiter interface {
	Check(ctx context.Context, key string, rule Rule) (Decision, error)
}

func decide(allowed bool, count int, resetAt, now time.Time) Decision {
	d := Decision{Allowed: allowed, Count: count, ResetAt: resetAt}
	if !allowed {
		d.RetryAfter = resetAt.Sub(now)
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
	}
	return d
}
