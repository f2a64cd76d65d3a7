// Package retry wraps a browser session with rate limiting, bounded retries
// and backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
	"github.com/JakeFAU/discogs-crawler/internal/metrics"
)

type state int

const (
	stateAttempting state = iota
	stateBackingOff
	stateSucceeded
	stateExhausted
)

func (s state) String() string {
	switch s {
	case stateAttempting:
		return "attempting"
	case stateBackingOff:
		return "backing_off"
	case stateSucceeded:
		return "succeeded"
	case stateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Config wires a Fetcher.
type Config struct {
	Policy Policy
	// PageLoadTimeout bounds a single attempt. Zero leaves it to the caller.
	PageLoadTimeout time.Duration
}

// Fetcher implements crawler.PageFetcher over one browser session. It is not
// safe for concurrent use.
type Fetcher struct {
	browser     crawler.Browser
	limiter     crawler.Limiter
	sleeper     crawler.Sleeper
	policy      Policy
	pageTimeout time.Duration
	logger      *zap.Logger
	randInt     func(n int64) int64

	consecutiveBlocks int
	bannerDismissed   bool
}

// New builds a Fetcher. Every attempt waits on limiter first.
func New(cfg Config, browser crawler.Browser, limiter crawler.Limiter, sleeper crawler.Sleeper, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		browser:     browser,
		limiter:     limiter,
		sleeper:     sleeper,
		policy:      cfg.Policy,
		pageTimeout: cfg.PageLoadTimeout,
		logger:      logger.Named("fetcher"),
		randInt:     rand.Int64N,
	}
}

// Fetch loads url and returns its DOM. It fails with *crawler.FetchError once
// retries are exhausted, immediately on not found, or when the block ceiling
// is exceeded. A canceled ctx aborts between attempts with ctx's error.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*crawler.Page, error) {
	var (
		st       = stateAttempting
		attempts int
		page     *crawler.Page
		reason   crawler.FetchReason
		lastErr  error
	)
	for {
		switch st {
		case stateAttempting:
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", url, err)
			}
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", url, err)
			}
			attempts++
			var err error
			page, reason, err = f.attempt(ctx, url)
			if err == nil {
				metrics.ObserveFetchAttempt(url, "success")
				st = stateSucceeded
				continue
			}
			metrics.ObserveFetchAttempt(url, string(reason))
			lastErr = err
			f.logger.Debug("page load failed",
				zap.String("url", url),
				zap.Int("attempt", attempts),
				zap.String("reason", string(reason)),
				zap.Error(err))

			if reason == crawler.ReasonBlocked {
				f.consecutiveBlocks++
				if f.consecutiveBlocks > f.policy.BlockCeiling {
					f.logger.Error("block ceiling exceeded",
						zap.String("url", url),
						zap.Int("consecutive_blocks", f.consecutiveBlocks))
					return nil, &crawler.FetchError{
						URL:      url,
						Reason:   crawler.ReasonBlocked,
						Attempts: attempts,
						Err:      fmt.Errorf("%w: %d consecutive blocked responses", crawler.ErrBlockCeiling, f.consecutiveBlocks),
					}
				}
			}
			if reason == crawler.ReasonNotFound || attempts >= f.policy.MaxAttempts() {
				st = stateExhausted
			} else {
				st = stateBackingOff
			}

		case stateBackingOff:
			delay := f.policy.Backoff(attempts-1, reason, f.randInt)
			metrics.ObserveBackoff(string(reason), delay)
			f.logger.Info("backing off",
				zap.String("url", url),
				zap.Int("attempt", attempts),
				zap.String("reason", string(reason)),
				zap.Duration("delay", delay))
			f.sleeper.Pause(ctx, delay)
			st = stateAttempting

		case stateSucceeded:
			f.consecutiveBlocks = 0
			f.dismissBanner(ctx)
			return page, nil

		case stateExhausted:
			return nil, &crawler.FetchError{
				URL:      url,
				Reason:   reason,
				Attempts: attempts,
				Err:      lastErr,
			}

		default:
			return nil, fmt.Errorf("fetch %s: invalid state %s", url, st)
		}
	}
}

func (f *Fetcher) attempt(ctx context.Context, url string) (*crawler.Page, crawler.FetchReason, error) {
	attemptCtx := ctx
	if f.pageTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, f.pageTimeout)
		defer cancel()
	}

	nav, err := f.browser.Navigate(attemptCtx, url)
	if err != nil {
		return nil, f.reasonFor(attemptCtx, err), fmt.Errorf("navigate: %w", err)
	}
	html, err := f.browser.PageSource(attemptCtx)
	if err != nil {
		return nil, f.reasonFor(attemptCtx, err), fmt.Errorf("page source: %w", err)
	}
	page, err := crawler.NewPage(url, nav.StatusCode, html)
	if err != nil {
		return nil, crawler.ReasonTransient, err
	}
	if reason, ok := Classify(page); !ok {
		return nil, reason, fmt.Errorf("status %d: %s page", nav.StatusCode, reason)
	}
	return page, "", nil
}

func (f *Fetcher) reasonFor(attemptCtx context.Context, err error) crawler.FetchReason {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return crawler.ReasonTimeout
	}
	return classifyError(err)
}

func (f *Fetcher) dismissBanner(ctx context.Context) {
	if f.bannerDismissed {
		return
	}
	f.bannerDismissed = true
	if err := f.browser.DismissCookieBanner(ctx); err != nil {
		f.logger.Warn("cookie banner dismissal failed", zap.Error(err))
	}
}
