// Package paginate walks a genre listing page by page and yields the artist
// links found on each page.
package paginate

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
	"github.com/JakeFAU/discogs-crawler/internal/metrics"
)

// Config describes where genre listings live.
type Config struct {
	// BaseURL is the site root, e.g. https://www.discogs.com.
	BaseURL string
	// MaxPages stops the walk after this page index. Zero means unbounded.
	MaxPages int
}

// Paginator produces listing iterators for a genre.
type Paginator struct {
	fetcher crawler.PageFetcher
	cfg     Config
	logger  *zap.Logger
}

// New returns a Paginator that loads pages through fetcher.
func New(cfg Config, fetcher crawler.PageFetcher, logger *zap.Logger) *Paginator {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Paginator{fetcher: fetcher, cfg: cfg, logger: logger.Named("paginate")}
}

// Pages returns an iterator positioned at cursor. Two iterators built from the
// same cursor yield the same batches as long as the listing does not change.
func (p *Paginator) Pages(genre crawler.GenreRef, cursor crawler.CrawlCursor) *Iterator {
	cursor = cursor.Normalize(genre.GenreID)
	return &Iterator{
		p:      p,
		genre:  genre,
		page:   cursor.PageIndex,
		offset: cursor.LastArtistOffset,
	}
}

// PageURL returns the listing URL for a 1-based page index.
func (p *Paginator) PageURL(genreID string, page int) string {
	u := p.cfg.BaseURL + "/genre/" + url.PathEscape(genreID)
	if page > 1 {
		u += "?page=" + strconv.Itoa(page)
	}
	return u
}

// Iterator pulls one listing page per Next call. It is not safe for
// concurrent use.
type Iterator struct {
	p      *Paginator
	genre  crawler.GenreRef
	page   int
	offset int
	prev   []crawler.ArtistLink
	done   bool
	err    error
}

// Next loads the next listing page. It returns false once the listing is
// exhausted or after an error; the error is also kept in Err.
func (it *Iterator) Next(ctx context.Context) (crawler.ArtistLinkBatch, bool, error) {
	if it.done {
		return crawler.ArtistLinkBatch{}, false, it.err
	}
	if limit := it.p.cfg.MaxPages; limit > 0 && it.page > limit {
		it.p.logger.Info("max pages reached", zap.String("genre", it.genre.GenreID), zap.Int("max_pages", limit))
		return it.finish(nil)
	}

	pageURL := it.p.PageURL(it.genre.GenreID, it.page)
	page, err := it.p.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			// Stopped, not failed: a later Next may retry this page.
			return crawler.ArtistLinkBatch{}, false, fmt.Errorf("listing page %d: %w", it.page, ctx.Err())
		}
		return it.finish(&crawler.PaginationError{GenreID: it.genre.GenreID, PageIndex: it.page, Err: err})
	}
	metrics.ObserveListingPage(it.genre.GenreID)

	links := ArtistLinks(page, it.p.cfg.BaseURL, it.genre.ListingMode)
	if len(links) == 0 {
		it.p.logger.Info("listing page has no artists, end of genre",
			zap.String("genre", it.genre.GenreID),
			zap.Int("page", it.page))
		return it.finish(nil)
	}
	if it.prev != nil && slices.Equal(links, it.prev) {
		it.p.logger.Info("listing page repeats the previous page, end of genre",
			zap.String("genre", it.genre.GenreID),
			zap.Int("page", it.page))
		return it.finish(nil)
	}
	it.prev = links

	batch := crawler.ArtistLinkBatch{PageIndex: it.page}
	if it.offset > 0 {
		batch.Offset = min(it.offset, len(links))
		it.offset = 0
	}
	batch.Links = links[batch.Offset:]
	it.page++
	return batch, true, nil
}

// Err returns the error that ended the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

func (it *Iterator) finish(err error) (crawler.ArtistLinkBatch, bool, error) {
	it.done = true
	it.err = err
	if err != nil {
		return crawler.ArtistLinkBatch{}, false, err
	}
	return crawler.ArtistLinkBatch{}, false, nil
}

// ArtistLinks extracts the ordered, de-duplicated artist links from the
// listing block selected by mode. Pages without that block fall back to any
// artist link inside the main listing area.
func ArtistLinks(page *crawler.Page, baseURL string, mode crawler.ListingMode) []crawler.ArtistLink {
	hrefs := page.Attrs(fmt.Sprintf("ul#%s a[href*='/artist/']", mode), "href")
	if len(hrefs) == 0 && page.Find("ul#"+string(mode)).Length() == 0 {
		hrefs = page.Attrs("#page_content a[href*='/artist/'], main a[href*='/artist/']", "href")
	}

	seen := make(map[string]struct{}, len(hrefs))
	var out []crawler.ArtistLink
	for _, href := range hrefs {
		abs, err := crawler.NormalizeURL(baseURL, href)
		if err != nil {
			continue
		}
		id, ok := crawler.ArtistIDFromURL(abs)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, crawler.ArtistLink{ArtistID: id, URL: abs})
	}
	return out
}
