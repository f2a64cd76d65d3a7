// Package app initializes and holds long-lived crawl services, acting as a
// dependency injection container for one pipeline run.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gstorage "cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/discogs-crawler/internal/checkpoint"
	"github.com/JakeFAU/discogs-crawler/internal/clock/system"
	"github.com/JakeFAU/discogs-crawler/internal/config"
	"github.com/JakeFAU/discogs-crawler/internal/crawler"
	"github.com/JakeFAU/discogs-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/discogs-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/discogs-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/discogs-crawler/internal/fetcher/replay"
	"github.com/JakeFAU/discogs-crawler/internal/fetcher/retry"
	rodbrowser "github.com/JakeFAU/discogs-crawler/internal/fetcher/rod"
	"github.com/JakeFAU/discogs-crawler/internal/id/uuid"
	"github.com/JakeFAU/discogs-crawler/internal/metrics"
	"github.com/JakeFAU/discogs-crawler/internal/paginate"
	"github.com/JakeFAU/discogs-crawler/internal/pipeline"
	"github.com/JakeFAU/discogs-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/discogs-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/discogs-crawler/internal/sink"
	"github.com/JakeFAU/discogs-crawler/internal/storage/gcs"
	"github.com/JakeFAU/discogs-crawler/internal/storage/local"
	"github.com/JakeFAU/discogs-crawler/internal/storage/postgres"
	"github.com/JakeFAU/discogs-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/discogs-crawler/internal/telemetry"
)

// ServiceName identifies the crawler in traces.
const ServiceName = "discocrawl"

// Version is stamped at build time with -ldflags.
var Version = "dev"

// RunStore records run history.
type RunStore interface {
	StartRun(ctx context.Context, runID string, genre crawler.GenreRef, startedAt time.Time) error
	CompleteRun(ctx context.Context, sum crawler.RunSummary) error
}

// Option overrides a service New would otherwise build from config.
type Option func(*App)

// WithBrowser replaces the configured browser driver.
func WithBrowser(b crawler.Browser) Option {
	return func(a *App) { a.browser = b }
}

// WithUploader replaces the GCS uploader.
func WithUploader(u crawler.Uploader) Option {
	return func(a *App) { a.uploader = u }
}

// WithPublisher replaces the Pub/Sub publisher.
func WithPublisher(p crawler.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithRunStore replaces the Postgres run history.
func WithRunStore(r RunStore) Option {
	return func(a *App) { a.runs = r }
}

// WithSleeper replaces the wall-clock sleeper used between retries.
func WithSleeper(s crawler.Sleeper) Option {
	return func(a *App) { a.sleeper = s }
}

// App holds the services of one crawl.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	browser    crawler.Browser
	output     *sink.JSONL
	sink       crawler.RecordSink
	cursors    crawler.CursorStore
	checkpoint *checkpoint.Store
	runs       RunStore
	uploader   crawler.Uploader
	publisher  crawler.Publisher
	sleeper    crawler.Sleeper
	metrics    *metrics.Server
	tracer     *sdktrace.TracerProvider
	ids        crawler.IDGenerator
	clock      crawler.Clock
	runner     *pipeline.Runner
	runID      string

	closers    []namedCloser
	sinkClosed bool
}

type namedCloser struct {
	name  string
	close func() error
}

// New builds every service from cfg. It fails fast, before any fetch, when a
// service cannot be initialized; whatever was already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		ids:    uuid.New(),
		clock:  system.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			if closeErr := a.Close(); closeErr != nil {
				logger.Warn("cleanup after failed init", zap.Error(closeErr))
			}
		}
	}()

	logger.Info("initializing crawl services",
		zap.String("genre", cfg.Genre.ID),
		zap.String("driver", cfg.Browser.Driver),
		zap.String("output", cfg.Output.Path))

	if a.tracer, err = telemetry.InitTracerProvider(ctx, ServiceName, Version); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.onClose("tracer", func() error { return a.tracer.Shutdown(context.Background()) })

	a.checkpoint = checkpoint.New(logger)
	if _, err = a.checkpoint.LoadFile(cfg.Output.Path); err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if err = a.initSink(ctx); err != nil {
		return nil, err
	}
	if err = a.initCursors(); err != nil {
		return nil, err
	}
	if err = a.initBrowser(ctx); err != nil {
		return nil, err
	}
	if err = a.initNotifications(ctx); err != nil {
		return nil, err
	}
	if cfg.Metrics.ListenAddr != "" {
		a.metrics = metrics.NewServer(cfg.Metrics.ListenAddr, logger)
	}
	if a.sleeper == nil {
		a.sleeper = system.NewSleeper()
	}

	fetcher := retry.New(retry.Config{
		Policy:          cfg.RetryPolicy(),
		PageLoadTimeout: cfg.PageLoadTimeout(),
	}, a.browser, ratelimit.New(cfg.LimiterConfig()), a.sleeper, logger)

	if a.runID, err = a.ids.NewID(); err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	a.runner, err = pipeline.New(pipeline.Config{
		Genre:      cfg.GenreRef(),
		RunID:      a.runID,
		Resume:     cfg.Crawl.Resume,
		MaxArtists: cfg.Crawl.MaxArtists,
	}, pipeline.Deps{
		Paginator:  paginate.New(paginate.Config{BaseURL: cfg.Crawl.BaseURL, MaxPages: cfg.Crawl.MaxPages}, fetcher, logger),
		Fetcher:    fetcher,
		Artists:    extract.NewArtistExtractor(cfg.Crawl.BaseURL, cfg.Crawl.MaxAlbumsPerArtist, a.clock),
		Albums:     extract.NewAlbumExtractor(a.clock),
		Checkpoint: a.checkpoint,
		Sink:       a.sink,
		Cursors:    a.cursors,
		Clock:      a.clock,
		IDs:        a.ids,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	logger.Info("crawl services initialized")
	return a, nil
}

func (a *App) initSink(ctx context.Context) error {
	out, err := sink.OpenJSONL(a.cfg.Output.Path)
	if err != nil {
		return err
	}
	a.output = out
	a.sink = out

	var mirrors []sink.Mirror
	if dsn := a.cfg.Sink.Postgres.DSN; dsn != "" {
		pool, err := postgres.NewPool(ctx, postgres.Config{DSN: dsn, MaxConns: a.cfg.Sink.Postgres.MaxConns})
		if err != nil {
			return fmt.Errorf("failed to initialize postgres mirror: %w", err)
		}
		records, err := postgres.NewRecordStore(pool)
		if err != nil {
			pool.Close()
			return fmt.Errorf("failed to initialize postgres mirror: %w", err)
		}
		mirrors = append(mirrors, sink.Mirror{Name: "postgres", Sink: records})
		if a.runs == nil {
			if a.runs, err = postgres.NewRunStore(pool); err != nil {
				pool.Close()
				return fmt.Errorf("failed to initialize run store: %w", err)
			}
		}
		a.logger.Info("mirroring records to postgres")
	}
	a.sink = sink.NewTee(out, a.logger, mirrors...)
	return nil
}

func (a *App) initCursors() error {
	store, err := OpenCursorStore(a.cfg)
	if err != nil {
		return err
	}
	a.cursors = store
	a.onClose("cursors", store.Close)
	return nil
}

// OpenCursorStore opens the cursor store selected by state.driver.
func OpenCursorStore(cfg config.Config) (crawler.CursorStore, error) {
	path := cfg.StatePath()
	var (
		store crawler.CursorStore
		err   error
	)
	switch cfg.State.Driver {
	case config.StateSQLite:
		store, err = sqlite.Open(path)
	default:
		store, err = local.NewCursorStore(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cursor store: %w", err)
	}
	return store, nil
}

func (a *App) initBrowser(ctx context.Context) error {
	if a.browser == nil {
		b, err := newBrowser(ctx, a.cfg, a.logger)
		if err != nil {
			return err
		}
		a.browser = b
	}
	if dir := a.cfg.Browser.RecordDir; dir != "" {
		rec, err := replay.NewRecorder(a.browser, dir, a.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize recorder: %w", err)
		}
		a.browser = rec
		a.logger.Info("recording pages", zap.String("dir", dir))
	}
	a.onClose("browser", a.browser.Close)
	return nil
}

func newBrowser(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Browser, error) {
	b := cfg.Browser
	timeout := cfg.PageLoadTimeout()
	switch b.Driver {
	case config.DriverRod:
		return rodbrowser.New(rodbrowser.Config{
			RemoteURL:         b.RemoteURL,
			Headless:          b.Headless,
			UserAgent:         b.UserAgent,
			NavigationTimeout: timeout,
		}, logger), nil
	case config.DriverHTTP:
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:     b.UserAgent,
			RespectRobots: b.RespectRobots,
			Timeout:       timeout,
		}), nil
	case config.DriverReplay:
		mem, err := replay.Load(ctx, b.ReplayDir)
		if err != nil {
			return nil, &crawler.ConfigError{Field: "browser.replay_dir", Msg: err.Error()}
		}
		return mem, nil
	default:
		return headless.NewChromedp(headless.Config{
			Headless:          b.Headless,
			UserAgent:         b.UserAgent,
			NavigationTimeout: timeout,
		}, logger), nil
	}
}

func (a *App) initNotifications(ctx context.Context) error {
	if a.uploader == nil && a.cfg.Output.GCSBucket != "" {
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}
		a.onClose("storage client", client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Output.GCSBucket})
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.uploader = store
		a.logger.Info("using GCS upload", zap.String("bucket", a.cfg.Output.GCSBucket))
	}

	ps := a.cfg.Notify.PubSub
	if a.publisher == nil && ps.ProjectID != "" {
		pub, err := pubsub.Dial(ctx, ps.ProjectID, ps.Topic)
		if err != nil {
			return fmt.Errorf("failed to initialize publisher: %w", err)
		}
		a.publisher = pub
		a.onClose("publisher", pub.Close)
		a.logger.Info("publishing run summaries", zap.String("topic", ps.Topic))
	}
	return nil
}

// Run executes the crawl, then uploads the output and announces the summary.
// Post-run steps are best effort: their failures are logged and never change
// the run's state. The returned error is non-nil only for a Failed run.
func (a *App) Run(ctx context.Context) (crawler.RunSummary, error) {
	if a.metrics != nil {
		a.metrics.Start()
	}
	post := context.WithoutCancel(ctx)

	if a.runs != nil {
		if err := a.runs.StartRun(post, a.runID, a.cfg.GenreRef(), a.clock.Now()); err != nil {
			a.logger.Warn("failed to record run start", zap.Error(err))
		}
	}

	sum, runErr := a.runner.Run(ctx)

	// Mirrors stay open until Close so the run store can still record completion.
	if err := a.output.Close(); err != nil {
		a.logger.Error("failed to close output", zap.Error(err))
	}
	sum.OutputURI = a.output.Path()
	if a.uploader != nil {
		uri, err := a.uploader.UploadFile(post, a.output.Path(), a.cfg.GCSObject())
		if err != nil {
			a.logger.Error("failed to upload output", zap.Error(err))
		} else {
			sum.OutputURI = uri
			a.logger.Info("output uploaded", zap.String("uri", uri))
		}
	}
	if a.runs != nil {
		if err := a.runs.CompleteRun(post, sum); err != nil {
			a.logger.Warn("failed to record run completion", zap.Error(err))
		}
	}
	if a.publisher != nil {
		id, err := a.publisher.Publish(post, sum)
		if err != nil {
			a.logger.Error("failed to publish run summary", zap.Error(err))
		} else {
			a.logger.Info("run summary published", zap.String("message_id", id))
		}
	}
	return sum, runErr
}

func (a *App) closeSink() error {
	if a.sinkClosed || a.sink == nil {
		return nil
	}
	a.sinkClosed = true
	return a.sink.Close()
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Close shuts services down in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	if a.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metrics.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if err := a.closeSink(); err != nil {
		errs = append(errs, fmt.Errorf("close sink: %w", err))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// RunID names the run New prepared.
func (a *App) RunID() string {
	return a.runID
}

// Checkpoint exposes the id history loaded from the output.
func (a *App) Checkpoint() *checkpoint.Store {
	return a.checkpoint
}

// Cursors exposes the configured cursor store.
func (a *App) Cursors() crawler.CursorStore {
	return a.cursors
}
