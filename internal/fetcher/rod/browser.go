// Package rodbrowser implements crawler.Browser with go-rod and the stealth
// page patches.
package rodbrowser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

// Config configures the rod session.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome. Empty
	// launches a local Chrome.
	RemoteURL         string
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
}

// Browser is one stealth tab. Chrome is launched on first use.
type Browser struct {
	cfg    Config
	logger *zap.Logger
	status *docStatus

	mu      sync.Mutex
	lnch    *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page
	closed  bool
}

// New returns an unstarted Browser.
func New(cfg Config, logger *zap.Logger) *Browser {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{cfg: cfg, logger: logger.Named("rod"), status: &docStatus{}}
}

// Navigate loads url and waits for the load event.
func (b *Browser) Navigate(ctx context.Context, url string) (crawler.Navigation, error) {
	page, err := b.ensurePage()
	if err != nil {
		return crawler.Navigation{URL: url}, err
	}
	p := page.Context(ctx).Timeout(b.cfg.NavigationTimeout)
	defer p.CancelTimeout()

	b.status.reset()
	if err := p.Navigate(url); err != nil {
		return crawler.Navigation{URL: url}, fmt.Errorf("rod navigate: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return crawler.Navigation{URL: url}, fmt.Errorf("rod wait load: %w", err)
	}
	finalURL := url
	if info, err := p.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}
	status, docURL := b.status.snapshot()
	if docURL != "" {
		finalURL = docURL
	}
	return crawler.Navigation{URL: finalURL, StatusCode: status}, nil
}

// PageSource returns the rendered DOM.
func (b *Browser) PageSource(ctx context.Context) (string, error) {
	page, err := b.ensurePage()
	if err != nil {
		return "", err
	}
	p := page.Context(ctx).Timeout(b.cfg.NavigationTimeout)
	defer p.CancelTimeout()

	html, err := p.HTML()
	if err != nil {
		return "", fmt.Errorf("rod page source: %w", err)
	}
	return html, nil
}

// DismissCookieBanner clicks the consent and language banners away if shown.
func (b *Browser) DismissCookieBanner(ctx context.Context) error {
	page, err := b.ensurePage()
	if err != nil {
		return err
	}
	obj, err := page.Context(ctx).Eval(crawler.DismissBannersJS)
	if err != nil {
		return fmt.Errorf("dismiss cookie banner: %w", err)
	}
	var res crawler.BannerResult
	if err := obj.Value.Unmarshal(&res); err != nil {
		return fmt.Errorf("decode banner result: %w", err)
	}
	b.logger.Debug("banners", zap.Bool("consent", res.Consent), zap.Bool("language", res.Language))
	return nil
}

// Close shuts the tab and Chrome down. It is idempotent.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if b.page != nil {
		errs = append(errs, b.page.Close())
	}
	if b.browser != nil {
		errs = append(errs, b.browser.Close())
	}
	if b.lnch != nil {
		b.lnch.Kill()
		b.lnch.Cleanup()
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close rod browser: %w", err)
	}
	return nil
}

func (b *Browser) ensurePage() (*rod.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("rod session closed")
	}
	if b.page != nil {
		return b.page, nil
	}

	wsURL := b.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(b.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.logger.Info("launched local chrome", zap.String("url", wsURL))
	}

	browser := rod.New().ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	page, err := stealth.Page(browser)
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	if b.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.cfg.UserAgent}); err != nil {
			b.logger.Warn("set user agent failed", zap.Error(err))
		}
	}
	go page.EachEvent(b.status.observe)()

	b.browser = browser
	b.page = page
	return page, nil
}

// docStatus records the status of the last document response.
type docStatus struct {
	mu     sync.Mutex
	status int
	url    string
}

func (d *docStatus) observe(e *proto.NetworkResponseReceived) {
	if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
		return
	}
	d.mu.Lock()
	d.status = e.Response.Status
	d.url = e.Response.URL
	d.mu.Unlock()
}

func (d *docStatus) reset() {
	d.mu.Lock()
	d.status, d.url = 0, ""
	d.mu.Unlock()
}

// snapshot returns the last document status, 200 when none was seen.
func (d *docStatus) snapshot() (int, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == 0 {
		return http.StatusOK, d.url
	}
	return d.status, d.url
}
