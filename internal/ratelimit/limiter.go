// Package ratelimit provides per-key sliding-window admission control backed
// by Redis, with an in-process fallback so a counter-store outage never takes
// the intake path down with it.
package ratelimit

import (
	"context"
	"time"

	"github.com/inputhaven/inputhaven/internal/pkg/logger"
)

// Limiter is the admission-control contract: Allow reports whether one more
// request under key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Window presets. Submissions are the tightest public surface; the read API
// serves authenticated callers and is looser.
var (
	SubmissionWindow = Window{Limit: 10, Period: time.Minute}
	APIWindow        = Window{Limit: 60, Period: time.Minute}
)

// Window is a rate limit: at most Limit requests per Period.
type Window struct {
	Limit  int
	Period time.Duration
}

// FallbackLimiter composes a primary (shared-store) limiter with a local
// fallback. The fallback activates only when the primary ERRORS (timeout,
// connection refused); a benign rejection from the primary is final.
type FallbackLimiter struct {
	primary  Limiter
	fallback Limiter
}

// NewFallbackLimiter builds the primary/fallback pair. Either may be nil:
// with no primary the fallback serves everything, with no fallback a primary
// error fails open (never block legitimate traffic on infrastructure).
func NewFallbackLimiter(primary, fallback Limiter) *FallbackLimiter {
	return &FallbackLimiter{primary: primary, fallback: fallback}
}

// Allow applies the primary limiter, degrading to the fallback on store
// error. The composed limiter never returns an error to its caller.
func (f *FallbackLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.primary != nil {
		allowed, err := f.primary.Allow(ctx, key)
		if err == nil {
			return allowed, nil
		}
		logger.Warn("rate limit store unavailable, using in-process fallback", "error", err.Error())
	}
	if f.fallback == nil {
		return true, nil
	}
	allowed, _ := f.fallback.Allow(ctx, key)
	return allowed, nil
}
