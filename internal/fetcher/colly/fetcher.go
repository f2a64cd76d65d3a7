// Package collyfetcher implements a static crawler.Browser using gocolly. It
// does not run JavaScript and suits pages rendered server side.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Browser loads pages with plain HTTP GETs. Like every crawler.Browser it is
// one session and is not safe for concurrent use.
type Browser struct {
	cfg           Config
	baseCollector *colly.Collector

	mu      sync.Mutex
	seq     uint64
	current string
	loaded  bool
}

// visit is the state of one navigation. Callbacks from a visit that is no
// longer the latest are dropped: a canceled Visit keeps running in the
// background and must not overwrite the page of the next one.
type visit struct {
	seq uint64
	nav crawler.Navigation
	err error
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Browser.
func New(cfg Config) *Browser {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.ParseHTTPErrorResponse = true
	return &Browser{cfg: cfg, baseCollector: c}
}

// Navigate implements crawler.Browser. Error statuses are reported in the
// Navigation, not as errors, so the caller can classify them.
func (b *Browser) Navigate(ctx context.Context, url string) (crawler.Navigation, error) {
	v := b.beginVisit(url)
	collector := b.buildCollector(ctx)
	b.configureCollectorHooks(collector, v)

	if err := b.runCollector(ctx, collector, url, v); err != nil {
		return crawler.Navigation{URL: url}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return v.nav, nil
}

func (b *Browser) beginVisit(url string) *visit {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.current, b.loaded = "", false
	return &visit{seq: b.seq, nav: crawler.Navigation{URL: url}}
}

// PageSource implements crawler.Browser.
func (b *Browser) PageSource(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return "", errors.New("no page loaded")
	}
	return b.current, nil
}

// DismissCookieBanner implements crawler.Browser. Static responses carry no
// interactive banner.
func (b *Browser) DismissCookieBanner(context.Context) error {
	return nil
}

// Close implements crawler.Browser.
func (b *Browser) Close() error {
	return nil
}

func (b *Browser) buildCollector(ctx context.Context) *colly.Collector {
	collector := b.baseCollector.Clone()
	collector.ParseHTTPErrorResponse = true
	if b.cfg.UserAgent != "" {
		collector.UserAgent = b.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !b.cfg.RespectRobots

	timeout := b.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	collector.SetRequestTimeout(timeout)
	return collector
}

func (b *Browser) configureCollectorHooks(hooks collectorHooks, v *visit) {
	hooks.OnResponse(func(r *colly.Response) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if v.seq != b.seq {
			return
		}
		v.nav.URL = r.Request.URL.String()
		v.nav.StatusCode = r.StatusCode
		b.current, b.loaded = string(r.Body), true
	})

	hooks.OnError(func(r *colly.Response, err error) {
		// With ParseHTTPErrorResponse set, error statuses still reach
		// OnResponse; only transport failures land here.
		if r != nil && r.StatusCode > 0 {
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if v.seq == b.seq {
			v.err = err
		}
	})
}

func (b *Browser) runCollector(ctx context.Context, collector *colly.Collector, url string, v *visit) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		b.abandon(v)
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		b.mu.Lock()
		fetchErr := v.err
		b.mu.Unlock()
		if fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", fetchErr)
		}
		return nil
	}
}

// abandon retires v so its late callbacks are ignored.
func (b *Browser) abandon(v *visit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seq == v.seq {
		b.seq++
		b.current, b.loaded = "", false
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
