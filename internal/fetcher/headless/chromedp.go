// Package headless contains browser sessions that execute JavaScript.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

// dismissScript runs crawler.DismissBannersJS in the page.
const dismissScript = "(" + crawler.DismissBannersJS + ")()"

// Config controls the behavior of the headless browser.
type Config struct {
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
	// ExecPath overrides the Chrome binary; empty uses chromedp's lookup.
	ExecPath string
}

// Chromedp is one headless Chrome tab driven through the DevTools protocol.
type Chromedp struct {
	cfg         Config
	logger      *zap.Logger
	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc
	meta        *responseMeta

	// run executes actions on a chromedp context; chromedp.Run outside tests.
	run func(ctx context.Context, actions ...chromedp.Action) error

	mu     sync.Mutex
	ready  bool
	closed bool
}

// NewChromedp creates a browser session. Chrome is started lazily on the
// first navigation.
func NewChromedp(cfg Config, logger *zap.Logger) *Chromedp {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	headless := any(false)
	if cfg.Headless {
		headless = "new"
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	meta := newResponseMeta()
	chromedp.ListenTarget(tab, meta.captureEvent)

	return &Chromedp{
		cfg:         cfg,
		logger:      logger.Named("chromedp"),
		allocCancel: allocCancel,
		tab:         tab,
		tabCancel:   tabCancel,
		meta:        meta,
		run:         chromedp.Run,
	}
}

// Navigate loads url in the session's tab and waits for the body. The status
// is the one of the last document response.
func (c *Chromedp) Navigate(ctx context.Context, url string) (crawler.Navigation, error) {
	if err := c.ensureReady(ctx); err != nil {
		return crawler.Navigation{URL: url}, err
	}
	runCtx, cancel := c.bound(ctx)
	defer cancel()

	c.meta.reset()
	var finalURL string
	err := c.run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return crawler.Navigation{URL: url}, fmt.Errorf("chromedp navigate: %w", boundErr(ctx, err))
	}
	status, _, responseURL := c.meta.snapshotWithFallbacks(url, finalURL)
	return crawler.Navigation{URL: responseURL, StatusCode: status}, nil
}

// PageSource returns the rendered DOM of the current page.
func (c *Chromedp) PageSource(ctx context.Context) (string, error) {
	runCtx, cancel := c.bound(ctx)
	defer cancel()

	var html string
	if err := c.run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("chromedp page source: %w", boundErr(ctx, err))
	}
	return html, nil
}

// DismissCookieBanner clicks the consent banner and the language banner away.
// A page without either is not an error.
func (c *Chromedp) DismissCookieBanner(ctx context.Context) error {
	runCtx, cancel := c.bound(ctx)
	defer cancel()

	var res crawler.BannerResult
	if err := c.run(runCtx, chromedp.Evaluate(dismissScript, &res)); err != nil {
		return fmt.Errorf("dismiss cookie banner: %w", boundErr(ctx, err))
	}
	c.logger.Debug("banners", zap.Bool("consent", res.Consent), zap.Bool("language", res.Language))
	return nil
}

// Close ends the tab and the Chrome process. It is idempotent.
func (c *Chromedp) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.tabCancel()
	c.allocCancel()
	return nil
}

func (c *Chromedp) ensureReady(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("chromedp session closed")
	}
	if c.ready {
		return nil
	}
	// The first Run allocates Chrome on the context it is given; it must
	// outlive this call.
	if err := c.run(c.tab); err != nil {
		return fmt.Errorf("start chrome: %w", err)
	}
	runCtx, cancel := c.bound(ctx)
	defer cancel()
	if err := c.run(runCtx, c.networkSetupAction()); err != nil {
		return fmt.Errorf("chrome network setup: %w", boundErr(ctx, err))
	}
	c.ready = true
	return nil
}

func (c *Chromedp) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if c.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// bound derives a context from the tab that ends with ctx or after the
// navigation timeout, whichever comes first.
func (c *Chromedp) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.cfg.NavigationTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	runCtx, cancel := context.WithTimeout(c.tab, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// boundErr reports the caller's deadline rather than the tab's when the
// caller is the one that gave up.
func boundErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(ctxErr, err)
	}
	return err
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status, m.headers, m.url = 0, http.Header{}, ""
	m.mu.Unlock()
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.headers.Clone(), m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}
