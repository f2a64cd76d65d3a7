package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
	"github.com/JakeFAU/discogs-crawler/internal/storage/local"
)

// Recorder wraps a live Browser and writes every loaded page into a fixture
// directory that Load can replay later.
type Recorder struct {
	next   crawler.Browser
	store  *local.BlobStore
	logger *zap.Logger

	mu       sync.Mutex
	manifest Manifest
	last     crawler.Navigation
}

// NewRecorder records pages loaded by next into dir.
func NewRecorder(next crawler.Browser, dir string, logger *zap.Logger) (*Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := local.New(local.Config{BaseDir: dir})
	if err != nil {
		return nil, fmt.Errorf("open record dir: %w", err)
	}
	return &Recorder{next: next, store: store, logger: logger.Named("recorder")}, nil
}

// Navigate implements crawler.Browser.
func (r *Recorder) Navigate(ctx context.Context, url string) (crawler.Navigation, error) {
	nav, err := r.next.Navigate(ctx, url)
	r.mu.Lock()
	r.last = nav
	if nav.URL == "" {
		r.last.URL = url
	}
	r.mu.Unlock()
	return nav, err
}

// PageSource implements crawler.Browser and records the returned HTML.
func (r *Recorder) PageSource(ctx context.Context) (string, error) {
	html, err := r.next.PageSource(ctx)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	name := fixtureName(r.last.URL, len(r.manifest.Pages))
	if _, err := r.store.PutObject(ctx, name, strings.NewReader(html)); err != nil {
		r.logger.Warn("record page failed", zap.String("url", r.last.URL), zap.Error(err))
		return html, nil
	}
	r.manifest.Pages = append(r.manifest.Pages, Entry{URL: r.last.URL, Status: r.last.StatusCode, File: name})
	if err := r.flushLocked(ctx); err != nil {
		r.logger.Warn("write manifest failed", zap.Error(err))
	}
	return html, nil
}

// DismissCookieBanner implements crawler.Browser.
func (r *Recorder) DismissCookieBanner(ctx context.Context) error {
	return r.next.DismissCookieBanner(ctx)
}

// Close writes the manifest and closes the wrapped browser.
func (r *Recorder) Close() error {
	r.mu.Lock()
	flushErr := r.flushLocked(context.Background())
	r.mu.Unlock()
	if err := r.next.Close(); err != nil {
		return err
	}
	return flushErr
}

func (r *Recorder) flushLocked(ctx context.Context) error {
	data, err := yaml.Marshal(r.manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if _, err := r.store.PutObject(ctx, ManifestFile, strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func fixtureName(url string, seq int) string {
	sum := sha256.Sum256([]byte(url))
	return fmt.Sprintf("pages/%04d-%s.html", seq, hex.EncodeToString(sum[:])[:16])
}
