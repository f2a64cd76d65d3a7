// Package replay serves recorded pages through the crawler.Browser interface
// so the crawl core can run without a live browser.
package replay

import (
	"context"
	"net/http"
	"sync"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

const notFoundHTML = `<html><head><title>Page not found</title></head><body><h1>404</h1></body></html>`

// Response is one scripted page load. Err, when set, is returned from
// Navigate instead of a page.
type Response struct {
	Status int
	HTML   string
	Err    error
}

// Memory is an in-memory Browser. Each URL holds a sequence of responses;
// successive loads walk the sequence and repeat its last entry. Unknown URLs
// load as 404 pages.
type Memory struct {
	mu         sync.Mutex
	pages      map[string][]Response
	calls      map[string]int
	history    []string
	current    Response
	dismissals int
	closed     bool
}

// NewMemory returns an empty Memory browser.
func NewMemory() *Memory {
	return &Memory{
		pages: make(map[string][]Response),
		calls: make(map[string]int),
	}
}

// Add appends responses for url and returns m for chaining.
func (m *Memory) Add(url string, responses ...Response) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[url] = append(m.pages[url], responses...)
	return m
}

// AddHTML registers a single 200 response for url.
func (m *Memory) AddHTML(url, html string) *Memory {
	return m.Add(url, Response{Status: http.StatusOK, HTML: html})
}

// Navigate implements crawler.Browser.
func (m *Memory) Navigate(ctx context.Context, url string) (crawler.Navigation, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Navigation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, url)
	seq := m.pages[url]
	idx := m.calls[url]
	m.calls[url]++

	var resp Response
	switch {
	case len(seq) == 0:
		resp = Response{Status: http.StatusNotFound, HTML: notFoundHTML}
	case idx < len(seq):
		resp = seq[idx]
	default:
		resp = seq[len(seq)-1]
	}
	if resp.Err != nil {
		m.current = Response{}
		return crawler.Navigation{URL: url}, resp.Err
	}
	m.current = resp
	return crawler.Navigation{URL: url, StatusCode: resp.Status}, nil
}

// PageSource implements crawler.Browser.
func (m *Memory) PageSource(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.HTML, nil
}

// DismissCookieBanner implements crawler.Browser.
func (m *Memory) DismissCookieBanner(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dismissals++
	return nil
}

// Close implements crawler.Browser.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns how many times url was navigated to.
func (m *Memory) Calls(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[url]
}

// History returns every navigated URL in order.
func (m *Memory) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...)
}

// Dismissals returns how often the cookie banner was dismissed.
func (m *Memory) Dismissals() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dismissals
}

// Closed reports whether Close was called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
