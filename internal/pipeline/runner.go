// Package pipeline drives a genre crawl: listing pages, then artists, then
// each artist's discography, persisting every new record exactly once.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/discogs-crawler/internal/checkpoint"
	"github.com/JakeFAU/discogs-crawler/internal/crawler"
	"github.com/JakeFAU/discogs-crawler/internal/metrics"
	"github.com/JakeFAU/discogs-crawler/internal/paginate"
)

const tracerName = "github.com/JakeFAU/discogs-crawler/internal/pipeline"

// ArtistExtractor reads artist pages.
type ArtistExtractor interface {
	Extract(page *crawler.Page, sourceURL string) (crawler.ArtistRecord, error)
	DiscographyLinks(page *crawler.Page) []crawler.AlbumLink
}

// AlbumExtractor reads album pages.
type AlbumExtractor interface {
	Extract(page *crawler.Page, artistID, sourceURL string) (crawler.AlbumRecord, error)
}

// Config holds per-run settings.
type Config struct {
	Genre crawler.GenreRef
	// RunID names the run; empty draws one from Deps.IDs.
	RunID string
	// Resume starts from the saved cursor instead of page 1 and re-expands the
	// already persisted artists of the first batch.
	Resume bool
	// MaxArtists ends the run after this many new artists. Zero is unbounded.
	MaxArtists int
}

// Deps are the collaborators a Runner drives. All are required.
type Deps struct {
	Paginator  *paginate.Paginator
	Fetcher    crawler.PageFetcher
	Artists    ArtistExtractor
	Albums     AlbumExtractor
	Checkpoint *checkpoint.Store
	Sink       crawler.RecordSink
	Cursors    crawler.CursorStore
	Clock      crawler.Clock
	IDs        crawler.IDGenerator
	Logger     *zap.Logger
}

// Runner owns all mutable crawl state for one genre. It runs on a single
// goroutine; none of its collaborators are shared with another Runner.
type Runner struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	tracer trace.Tracer

	phase   phase
	cursor  crawler.CrawlCursor
	summary crawler.RunSummary
}

// New validates deps and returns a Runner.
func New(cfg Config, deps Deps) (*Runner, error) {
	switch {
	case cfg.Genre.GenreID == "":
		return nil, &crawler.ConfigError{Field: "genre.id", Msg: "genre id is required"}
	case deps.Paginator == nil, deps.Fetcher == nil, deps.Artists == nil, deps.Albums == nil,
		deps.Checkpoint == nil, deps.Sink == nil, deps.Cursors == nil, deps.Clock == nil, deps.IDs == nil:
		return nil, &crawler.ConfigError{Msg: "pipeline dependencies are incomplete"}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("pipeline").With(zap.String("genre", cfg.Genre.GenreID)),
		tracer: otel.Tracer(tracerName),
		phase:  phaseIdle,
	}, nil
}

// Run crawls the genre until the listing is exhausted, a non-recoverable
// error occurs, or ctx is canceled. Cancellation is a cooperative stop: the
// record in flight is finished and the cursor saved before Run returns. The
// returned error is non-nil only for a Failed run.
func (r *Runner) Run(ctx context.Context) (crawler.RunSummary, error) {
	runID := r.cfg.RunID
	if runID == "" {
		id, err := r.deps.IDs.NewID()
		if err != nil {
			return r.finish(fail(crawler.FailConfig, fmt.Errorf("run id: %w", err)))
		}
		runID = id
	}
	r.summary = crawler.RunSummary{
		RunID:     runID,
		GenreID:   r.cfg.Genre.GenreID,
		GenreName: r.cfg.Genre.GenreName,
		StartedAt: r.deps.Clock.Now(),
	}
	r.logger = r.logger.With(zap.String("run_id", runID))

	ctx, span := r.tracer.Start(ctx, "crawl_genre", trace.WithAttributes(
		attribute.String("genre", r.cfg.Genre.GenreID),
		attribute.String("run_id", runID),
	))
	defer span.End()

	if err := r.loadCursor(context.WithoutCancel(ctx)); err != nil {
		return r.finish(err)
	}
	r.logger.Info("crawl started",
		zap.Int("page", r.cursor.PageIndex),
		zap.Int("offset", r.cursor.LastArtistOffset),
		zap.Int("known_artists", r.deps.Checkpoint.Len(crawler.RecordArtist)),
		zap.Int("known_albums", r.deps.Checkpoint.Len(crawler.RecordAlbum)))

	err := r.crawl(ctx)
	if err != nil && !errors.Is(err, errStopped) && !errors.Is(err, errLimitReached) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return r.finish(err)
}

func (r *Runner) loadCursor(ctx context.Context) error {
	r.cursor = crawler.CrawlCursor{GenreID: r.cfg.Genre.GenreID, PageIndex: 1}
	if !r.cfg.Resume {
		return nil
	}
	saved, ok, err := r.deps.Cursors.LoadCursor(ctx, r.cfg.Genre.GenreID)
	if err != nil {
		return fail(crawler.FailConfig, fmt.Errorf("load cursor: %w", err))
	}
	if ok {
		r.cursor = saved.Normalize(r.cfg.Genre.GenreID)
		r.logger.Info("resuming from cursor",
			zap.Int("page", r.cursor.PageIndex),
			zap.Int("offset", r.cursor.LastArtistOffset))
	}
	return nil
}

func (r *Runner) crawl(ctx context.Context) error {
	work := context.WithoutCancel(ctx)
	it := r.deps.Paginator.Pages(r.cfg.Genre, r.cursor)
	first := r.cfg.Resume

	for {
		if ctx.Err() != nil {
			return r.stop(work, r.cursor.PageIndex, r.cursor.LastArtistOffset)
		}
		r.enter(phaseCrawlingGenre, zap.Int("page", r.cursor.PageIndex))

		batch, ok, err := it.Next(work)
		if err != nil {
			reason := crawler.FailPagination
			if errors.Is(err, crawler.ErrBlockCeiling) {
				reason = crawler.FailBlocked
			}
			return fail(reason, err)
		}
		if !ok {
			return nil
		}
		r.summary.PagesCrawled++

		if err := r.processBatch(ctx, batch, first); err != nil {
			return err
		}
		first = false

		r.cursor = crawler.CrawlCursor{GenreID: r.cfg.Genre.GenreID, PageIndex: batch.PageIndex + 1}
		if err := r.saveCursor(work); err != nil {
			return err
		}
	}
}

// processBatch walks one listing page. On the first batch of a resumed run,
// artists that are already checkpointed are still expanded so albums left
// behind by an interrupted run get picked up. Otherwise they are skipped
// without a fetch.
func (r *Runner) processBatch(ctx context.Context, batch crawler.ArtistLinkBatch, reexpand bool) error {
	ctx, span := r.tracer.Start(ctx, "listing_page", trace.WithAttributes(attribute.Int("page", batch.PageIndex)))
	defer span.End()

	for i, link := range batch.Links {
		if ctx.Err() != nil {
			return r.stop(context.WithoutCancel(ctx), batch.PageIndex, batch.Offset+i)
		}
		err := r.processArtist(ctx, link, reexpand)
		if errors.Is(err, errStopped) {
			// The artist's discography was cut short; resume starts at it.
			return r.stop(context.WithoutCancel(ctx), batch.PageIndex, batch.Offset+i)
		}
		if errors.Is(err, errLimitReached) {
			r.cursor = crawler.CrawlCursor{GenreID: r.cfg.Genre.GenreID, PageIndex: batch.PageIndex, LastArtistOffset: batch.Offset + i + 1}
			if saveErr := r.saveCursor(context.WithoutCancel(ctx)); saveErr != nil {
				return saveErr
			}
			return err
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) processArtist(ctx context.Context, link crawler.ArtistLink, reexpand bool) error {
	cp := r.deps.Checkpoint
	known := cp.Contains(crawler.RecordArtist, link.ArtistID)
	if known && !reexpand {
		r.artistSeen(link)
		return nil
	}
	r.enter(phaseProcessingArtist, zap.String("artist_id", link.ArtistID))

	ctx, span := r.tracer.Start(ctx, "artist", trace.WithAttributes(attribute.String("artist_id", link.ArtistID)))
	defer span.End()
	work := context.WithoutCancel(ctx)

	page, err := r.deps.Fetcher.Fetch(work, link.URL)
	if err != nil {
		if fatal := fetchFailure(err); fatal != nil {
			return fatal
		}
		r.artistSkipped(link, err)
		return nil
	}
	rec, err := r.deps.Artists.Extract(page, link.URL)
	if err != nil {
		r.artistSkipped(link, err)
		return nil
	}

	if known || cp.Contains(crawler.RecordArtist, rec.ArtistID) {
		r.artistSeen(link)
	} else {
		rec.Genre = r.cfg.Genre.GenreName
		if err := r.deps.Sink.WriteArtist(work, rec); err != nil {
			return fail(crawler.FailSink, fmt.Errorf("write artist %s: %w", rec.ArtistID, err))
		}
		cp.Mark(crawler.RecordArtist, rec.ArtistID)
		cp.Mark(crawler.RecordArtist, link.ArtistID)
		r.summary.ArtistsPersisted++
		metrics.ObserveRecord(string(crawler.RecordArtist), "persisted")
		r.logger.Info("artist persisted", zap.String("artist_id", rec.ArtistID), zap.String("name", rec.Name))
	}

	albums := r.deps.Artists.DiscographyLinks(page)
	for idx, album := range albums {
		if ctx.Err() != nil {
			return errStopped
		}
		r.enter(phaseProcessingAlbums, zap.String("artist_id", rec.ArtistID), zap.Int("album_index", idx))
		if err := r.processAlbum(ctx, rec.ArtistID, album); err != nil {
			return err
		}
	}

	if r.cfg.MaxArtists > 0 && r.summary.ArtistsPersisted >= r.cfg.MaxArtists {
		r.logger.Info("max artists reached", zap.Int("max_artists", r.cfg.MaxArtists))
		return errLimitReached
	}
	return nil
}

func (r *Runner) processAlbum(ctx context.Context, artistID string, link crawler.AlbumLink) error {
	cp := r.deps.Checkpoint
	if cp.Contains(crawler.RecordAlbum, link.AlbumID) {
		r.summary.AlbumsSeen++
		metrics.ObserveRecord(string(crawler.RecordAlbum), "seen")
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "album", trace.WithAttributes(attribute.String("album_id", link.AlbumID)))
	defer span.End()
	work := context.WithoutCancel(ctx)

	page, err := r.deps.Fetcher.Fetch(work, link.URL)
	if err != nil {
		if fatal := fetchFailure(err); fatal != nil {
			return fatal
		}
		r.albumSkipped(link, err)
		return nil
	}
	rec, err := r.deps.Albums.Extract(page, artistID, link.URL)
	if err != nil {
		r.albumSkipped(link, err)
		return nil
	}
	if cp.Contains(crawler.RecordAlbum, rec.AlbumID) {
		r.summary.AlbumsSeen++
		metrics.ObserveRecord(string(crawler.RecordAlbum), "seen")
		return nil
	}
	if err := r.deps.Sink.WriteAlbum(work, rec); err != nil {
		return fail(crawler.FailSink, fmt.Errorf("write album %s: %w", rec.AlbumID, err))
	}
	cp.Mark(crawler.RecordAlbum, rec.AlbumID)
	cp.Mark(crawler.RecordAlbum, link.AlbumID)
	r.summary.AlbumsPersisted++
	metrics.ObserveRecord(string(crawler.RecordAlbum), "persisted")
	r.logger.Debug("album persisted", zap.String("album_id", rec.AlbumID), zap.String("artist_id", artistID))
	return nil
}

func (r *Runner) stop(ctx context.Context, page, offset int) error {
	r.cursor = crawler.CrawlCursor{GenreID: r.cfg.Genre.GenreID, PageIndex: page, LastArtistOffset: offset}
	if err := r.saveCursor(ctx); err != nil {
		return err
	}
	return errStopped
}

func (r *Runner) saveCursor(ctx context.Context) error {
	r.cursor.UpdatedAt = r.deps.Clock.Now()
	if err := r.deps.Cursors.SaveCursor(ctx, r.cursor); err != nil {
		return fail(crawler.FailSink, fmt.Errorf("save cursor: %w", err))
	}
	return nil
}

// Phase reports the runner's current state machine position.
func (r *Runner) Phase() string {
	return string(r.phase)
}

func (r *Runner) enter(p phase, fields ...zap.Field) {
	r.phase = p
	r.logger.Debug("state", append([]zap.Field{zap.String("phase", string(p))}, fields...)...)
}

func (r *Runner) artistSeen(link crawler.ArtistLink) {
	r.summary.ArtistsSeen++
	metrics.ObserveRecord(string(crawler.RecordArtist), "seen")
	r.logger.Debug("artist already persisted", zap.String("artist_id", link.ArtistID))
}

func (r *Runner) artistSkipped(link crawler.ArtistLink, err error) {
	r.summary.ArtistsSkipped++
	metrics.ObserveRecord(string(crawler.RecordArtist), "skipped")
	r.logger.Warn("artist skipped",
		zap.String("artist_id", link.ArtistID),
		zap.String("url", link.URL),
		zap.String("reason", skipReason(err)),
		zap.Error(err))
}

func (r *Runner) albumSkipped(link crawler.AlbumLink, err error) {
	r.summary.AlbumsSkipped++
	metrics.ObserveRecord(string(crawler.RecordAlbum), "skipped")
	r.logger.Warn("album skipped",
		zap.String("album_id", link.AlbumID),
		zap.String("url", link.URL),
		zap.String("reason", skipReason(err)),
		zap.Error(err))
}

func skipReason(err error) string {
	var fe *crawler.FetchError
	if errors.As(err, &fe) {
		return string(fe.Reason)
	}
	var ee *crawler.ExtractionError
	if errors.As(err, &ee) {
		return "missing_" + ee.Field
	}
	return "unknown"
}

func (r *Runner) finish(err error) (crawler.RunSummary, error) {
	sum := r.summary
	sum.FinishedAt = r.deps.Clock.Now()
	sum.Cursor = r.cursor

	var f *failure
	switch {
	case err == nil, errors.Is(err, errLimitReached):
		r.phase = phaseDone
		sum.State = crawler.StateDone
		err = nil
	case errors.Is(err, errStopped):
		r.phase = phaseStopped
		sum.State = crawler.StateStopped
		err = nil
	case errors.As(err, &f):
		r.phase = phaseFailed
		sum.State = crawler.StateFailed
		sum.Reason = f.reason
		sum.Error = f.err.Error()
	default:
		r.phase = phaseFailed
		sum.State = crawler.StateFailed
		sum.Reason = crawler.FailConfig
		sum.Error = err.Error()
	}
	r.summary = sum
	metrics.ObserveRun(string(sum.State))

	fields := []zap.Field{
		zap.String("state", string(sum.State)),
		zap.Int("artists_persisted", sum.ArtistsPersisted),
		zap.Int("artists_skipped", sum.ArtistsSkipped),
		zap.Int("artists_already_seen", sum.ArtistsSeen),
		zap.Int("albums_persisted", sum.AlbumsPersisted),
		zap.Int("albums_skipped", sum.AlbumsSkipped),
		zap.Int("albums_already_seen", sum.AlbumsSeen),
		zap.Int("pages_crawled", sum.PagesCrawled),
		zap.Int("cursor_page", sum.Cursor.PageIndex),
		zap.Int("cursor_offset", sum.Cursor.LastArtistOffset),
		zap.Duration("duration", sum.Duration()),
	}
	if err != nil {
		r.logger.Error("crawl failed", append(fields, zap.String("reason", string(sum.Reason)), zap.Error(err))...)
		return sum, err
	}
	r.logger.Info("crawl finished", fields...)
	return sum, nil
}
