package retry

import (
	"time"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

// Policy bounds how often and how long a page load is retried.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BackoffBase is the delay after the first failed attempt; it doubles
	// with every further attempt.
	BackoffBase time.Duration
	// BackoffCap caps the exponential delay before jitter is added.
	BackoffCap time.Duration
	// BlockCooldown replaces the exponential delay after a blocked attempt.
	BlockCooldown time.Duration
	// BlockCeiling is the number of consecutive blocked responses tolerated
	// before the crawl gives up.
	BlockCeiling int
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		BackoffBase:   2 * time.Second,
		BackoffCap:    60 * time.Second,
		BlockCooldown: 120 * time.Second,
		BlockCeiling:  5,
	}
}

// MaxAttempts is the total number of page loads allowed for one fetch.
func (p Policy) MaxAttempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// BaseDelay returns min(BackoffBase * 2^attempt, BackoffCap) for a 0-based
// attempt number.
func (p Policy) BaseDelay(attempt int) time.Duration {
	if p.BackoffBase <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BackoffBase
	for i := 0; i < attempt; i++ {
		if p.BackoffCap > 0 && delay >= p.BackoffCap {
			break
		}
		if delay > time.Duration(1<<62)/2 {
			break
		}
		delay *= 2
	}
	if p.BackoffCap > 0 && delay > p.BackoffCap {
		delay = p.BackoffCap
	}
	return delay
}

// Backoff returns the pause that follows failed attempt n (0-based). Blocked
// attempts wait BlockCooldown. Jitter is drawn uniformly from [0, d/2) using
// randInt, which must return a value in [0, n); a nil randInt disables jitter.
func (p Policy) Backoff(attempt int, reason crawler.FetchReason, randInt func(n int64) int64) time.Duration {
	delay := p.BaseDelay(attempt)
	if reason == crawler.ReasonBlocked && p.BlockCooldown > delay {
		delay = p.BlockCooldown
	}
	half := int64(delay / 2)
	if randInt == nil || half <= 0 {
		return delay
	}
	return delay + time.Duration(randInt(half))
}
