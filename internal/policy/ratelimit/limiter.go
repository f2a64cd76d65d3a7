// Package ratelimit spaces outbound page loads for a single browser session.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/discogs-crawler/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// MinInterval is the minimum spacing between two page loads.
	MinInterval time.Duration
	// Jitter adds a uniform random delay in [0, Jitter) after each wait.
	Jitter time.Duration
}

// Limiter enforces MinInterval between the returns of consecutive Wait calls
// and adds bounded random jitter so requests do not follow a fixed cadence.
// The jitter is slept before the limiter token is taken, so the token is
// always the last thing a Wait does.
type Limiter struct {
	limiter *rate.Limiter
	jitter  time.Duration
	randInt func(n int64) int64
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Inf
	if cfg.MinInterval > 0 {
		r = rate.Every(cfg.MinInterval)
	}
	jitter := cfg.Jitter
	if jitter < 0 {
		jitter = 0
	}
	return &Limiter{
		limiter: rate.NewLimiter(r, 1),
		jitter:  jitter,
		randInt: rand.Int64N,
		sleep:   sleepCtx,
	}
}

// Wait blocks until the next page load may start: at least MinInterval after
// the previous Wait returned, plus jitter. It only fails when ctx is done
// before the slot opens.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if extra := l.nextJitter(); extra > 0 {
		if err := l.sleep(ctx, extra); err != nil {
			return fmt.Errorf("rate limit jitter: %w", err)
		}
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}

func (l *Limiter) nextJitter() time.Duration {
	if l.jitter <= 0 {
		return 0
	}
	return time.Duration(l.randInt(int64(l.jitter)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
