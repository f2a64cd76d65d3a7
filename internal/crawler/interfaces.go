package crawler

import (
	"context"
	"time"
)

// Browser is the page-loading capability the crawl core depends on. A single
// Browser is one session: calls are sequential and never concurrent.
type Browser interface {
	Navigate(ctx context.Context, url string) (Navigation, error)
	PageSource(ctx context.Context) (string, error)
	DismissCookieBanner(ctx context.Context) error
	Close() error
}

// PageFetcher loads a URL and returns its parsed DOM.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Limiter spaces outbound page loads.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Sleeper pauses between retry attempts.
type Sleeper interface {
	Pause(ctx context.Context, delay time.Duration)
}

// RecordSink appends artist and album records to durable output.
type RecordSink interface {
	WriteArtist(ctx context.Context, rec ArtistRecord) error
	WriteAlbum(ctx context.Context, rec AlbumRecord) error
	Close() error
}

// CursorStore persists the crawl cursor for a genre.
type CursorStore interface {
	LoadCursor(ctx context.Context, genreID string) (CrawlCursor, bool, error)
	SaveCursor(ctx context.Context, cursor CrawlCursor) error
	Close() error
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Uploader copies a finished artifact to remote storage and returns its URI.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string, object string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
