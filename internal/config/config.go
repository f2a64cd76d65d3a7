// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
	"github.com/JakeFAU/discogs-crawler/internal/fetcher/retry"
	"github.com/JakeFAU/discogs-crawler/internal/policy/ratelimit"
)

// EnvPrefix prefixes every environment override, e.g. DISCOCRAWL_GENRE_ID.
const EnvPrefix = "DISCOCRAWL"

// Browser drivers.
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
	DriverHTTP     = "http"
	DriverReplay   = "replay"
)

// Cursor state drivers.
const (
	StateFile   = "file"
	StateSQLite = "sqlite"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Genre     GenreConfig     `mapstructure:"genre"`
	Output    OutputConfig    `mapstructure:"output"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	State     StateConfig     `mapstructure:"state"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// GenreConfig selects the genre listing.
type GenreConfig struct {
	ID          string `mapstructure:"id"`
	Name        string `mapstructure:"name"`
	ListingMode string `mapstructure:"listing_mode"`
}

// OutputConfig locates the JSONL stream and its optional upload target.
type OutputConfig struct {
	Path      string `mapstructure:"path"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSObject string `mapstructure:"gcs_object"`
}

// CrawlConfig bounds the crawl.
type CrawlConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	Resume             bool   `mapstructure:"resume"`
	MaxPages           int    `mapstructure:"max_pages"`
	MaxArtists         int    `mapstructure:"max_artists"`
	MaxAlbumsPerArtist int    `mapstructure:"max_albums_per_artist"`
}

// RateLimitConfig spaces page loads.
type RateLimitConfig struct {
	MinIntervalSeconds float64 `mapstructure:"min_interval_seconds"`
	JitterSeconds      float64 `mapstructure:"jitter_seconds"`
}

// RetryConfig tunes the retrying fetcher.
type RetryConfig struct {
	MaxRetries           int     `mapstructure:"max_retries"`
	BackoffBaseSeconds   float64 `mapstructure:"backoff_base_seconds"`
	BackoffCapSeconds    float64 `mapstructure:"backoff_cap_seconds"`
	BlockCooldownSeconds float64 `mapstructure:"block_cooldown_seconds"`
	BlockCeiling         int     `mapstructure:"block_ceiling"`
}

// BrowserConfig selects and tunes the browser driver.
type BrowserConfig struct {
	Driver                 string  `mapstructure:"driver"`
	Headless               bool    `mapstructure:"headless"`
	UserAgent              string  `mapstructure:"user_agent"`
	PageLoadTimeoutSeconds float64 `mapstructure:"page_load_timeout_seconds"`
	RemoteURL              string  `mapstructure:"remote_url"`
	RespectRobots          bool    `mapstructure:"respect_robots"`
	ReplayDir              string  `mapstructure:"replay_dir"`
	RecordDir              string  `mapstructure:"record_dir"`
}

// StateConfig selects the cursor store.
type StateConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// SinkConfig configures record mirrors.
type SinkConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls the optional Postgres mirror.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// NotifyConfig configures run notifications.
type NotifyConfig struct {
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig toggles the metrics endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"genre":             "genre.id",
	"genre-name":        "genre.name",
	"listing-mode":      "genre.listing_mode",
	"output":            "output.path",
	"base-url":          "crawl.base_url",
	"resume":            "crawl.resume",
	"max-pages":         "crawl.max_pages",
	"max-artists":       "crawl.max_artists",
	"max-albums":        "crawl.max_albums_per_artist",
	"driver":            "browser.driver",
	"headless":          "browser.headless",
	"replay-dir":        "browser.replay_dir",
	"record-dir":        "browser.record_dir",
	"state-driver":      "state.driver",
	"metrics-addr":      "metrics.listen_addr",
	"log-level":         "logging.level",
	"log-development":   "logging.development",
	"min-interval":      "ratelimit.min_interval_seconds",
	"max-retries":       "retry.max_retries",
	"page-load-timeout": "browser.page_load_timeout_seconds",
}

// RegisterFlags defines the crawl flags on fs. Load binds the ones that were
// set on top of file and environment values.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("genre", "", "genre id as it appears in /genre/{id}")
	fs.String("genre-name", "", "genre label stored on artist records")
	fs.String("listing-mode", "", "listing section: most_collected, top_artists or early_masters")
	fs.String("output", "", "JSONL output path")
	fs.String("base-url", "", "catalog site root")
	fs.Bool("resume", false, "continue from the saved cursor")
	fs.Int("max-pages", 0, "stop after this many listing pages (0 = no limit)")
	fs.Int("max-artists", 0, "stop after this many new artists (0 = no limit)")
	fs.Int("max-albums", 0, "albums kept per artist (0 = all)")
	fs.String("driver", "", "browser driver: chromedp, rod, http or replay")
	fs.Bool("headless", true, "run the browser without a window")
	fs.String("replay-dir", "", "fixture directory for the replay driver")
	fs.String("record-dir", "", "write every fetched page to this directory")
	fs.String("state-driver", "", "cursor store: file or sqlite")
	fs.String("metrics-addr", "", "serve /metrics and /healthz on this address")
	fs.String("log-level", "", "zap log level")
	fs.Bool("log-development", false, "human readable logs")
	fs.Float64("min-interval", 0, "seconds between page loads")
	fs.Int("max-retries", 0, "retries per page after the first attempt")
	fs.Float64("page-load-timeout", 0, "seconds before a page load attempt times out")
}

// Load builds a Config from defaults, an optional file, DISCOCRAWL_*
// environment variables and any changed flags in fs (which may be nil).
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, &crawler.ConfigError{Field: "config", Msg: fmt.Sprintf("read config: %v", err)}
		}
	}
	if fs != nil {
		var bindErr error
		fs.Visit(func(f *pflag.Flag) {
			if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
				bindErr = v.BindPFlag(key, f)
			}
		})
		if bindErr != nil {
			return Config{}, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, &crawler.ConfigError{Field: "config", Msg: fmt.Sprintf("unmarshal config: %v", err)}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("genre.id", "rock")
	v.SetDefault("genre.name", "Rock")
	v.SetDefault("genre.listing_mode", string(crawler.ListingMostCollected))
	v.SetDefault("output.path", "discogs_data.jsonl")
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("output.gcs_object", "")
	v.SetDefault("crawl.base_url", "https://www.discogs.com")
	v.SetDefault("crawl.resume", false)
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.max_artists", 0)
	v.SetDefault("crawl.max_albums_per_artist", 0)
	v.SetDefault("ratelimit.min_interval_seconds", 1.0)
	v.SetDefault("ratelimit.jitter_seconds", 1.5)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.backoff_base_seconds", 2.0)
	v.SetDefault("retry.backoff_cap_seconds", 60.0)
	v.SetDefault("retry.block_cooldown_seconds", 120.0)
	v.SetDefault("retry.block_ceiling", 5)
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.page_load_timeout_seconds", 20.0)
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.respect_robots", false)
	v.SetDefault("browser.replay_dir", "")
	v.SetDefault("browser.record_dir", "")
	v.SetDefault("state.driver", StateFile)
	v.SetDefault("state.path", "")
	v.SetDefault("sink.postgres.dsn", "")
	v.SetDefault("sink.postgres.max_conns", 4)
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic", "")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits. Every failure is
// a *crawler.ConfigError.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Genre.ID) == "":
		return invalid("genre.id", "must be set")
	case strings.TrimSpace(c.Output.Path) == "":
		return invalid("output.path", "must be set")
	case c.Crawl.MaxPages < 0:
		return invalid("crawl.max_pages", "must be >= 0")
	case c.Crawl.MaxArtists < 0:
		return invalid("crawl.max_artists", "must be >= 0")
	case c.Crawl.MaxAlbumsPerArtist < 0:
		return invalid("crawl.max_albums_per_artist", "must be >= 0")
	case c.RateLimit.MinIntervalSeconds < 0:
		return invalid("ratelimit.min_interval_seconds", "must be >= 0")
	case c.RateLimit.JitterSeconds < 0:
		return invalid("ratelimit.jitter_seconds", "must be >= 0")
	case c.Retry.MaxRetries < 0:
		return invalid("retry.max_retries", "must be >= 0")
	case c.Retry.BackoffBaseSeconds <= 0:
		return invalid("retry.backoff_base_seconds", "must be > 0")
	case c.Retry.BackoffCapSeconds < c.Retry.BackoffBaseSeconds:
		return invalid("retry.backoff_cap_seconds", "must be >= retry.backoff_base_seconds")
	case c.Retry.BlockCooldownSeconds < 0:
		return invalid("retry.block_cooldown_seconds", "must be >= 0")
	case c.Retry.BlockCeiling < 0:
		return invalid("retry.block_ceiling", "must be >= 0")
	case c.Browser.PageLoadTimeoutSeconds <= 0:
		return invalid("browser.page_load_timeout_seconds", "must be > 0")
	case c.Output.GCSObject != "" && c.Output.GCSBucket == "":
		return invalid("output.gcs_bucket", "must be set when output.gcs_object is set")
	case (c.Notify.PubSub.ProjectID == "") != (c.Notify.PubSub.Topic == ""):
		return invalid("notify.pubsub", "project_id and topic must be set together")
	}

	if _, err := crawler.ParseListingMode(c.Genre.ListingMode); err != nil {
		return invalid("genre.listing_mode", err.Error())
	}
	if u, err := url.Parse(c.Crawl.BaseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return invalid("crawl.base_url", fmt.Sprintf("%q is not an absolute http(s) URL", c.Crawl.BaseURL))
	}

	switch c.Browser.Driver {
	case DriverChromedp, DriverRod, DriverHTTP:
	case DriverReplay:
		if c.Browser.ReplayDir == "" {
			return invalid("browser.replay_dir", "must be set for the replay driver")
		}
	default:
		return invalid("browser.driver", fmt.Sprintf("unknown driver %q", c.Browser.Driver))
	}

	switch c.State.Driver {
	case StateFile, StateSQLite:
	default:
		return invalid("state.driver", fmt.Sprintf("unknown driver %q", c.State.Driver))
	}
	return nil
}

func invalid(field, msg string) error {
	return &crawler.ConfigError{Field: field, Msg: msg}
}

// GenreRef returns the validated genre selection.
func (c Config) GenreRef() crawler.GenreRef {
	mode, err := crawler.ParseListingMode(c.Genre.ListingMode)
	if err != nil {
		mode = crawler.ListingMostCollected
	}
	name := c.Genre.Name
	if name == "" {
		name = c.Genre.ID
	}
	return crawler.GenreRef{GenreID: c.Genre.ID, GenreName: name, ListingMode: mode}
}

// RetryPolicy converts the retry section into a retry.Policy.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:    c.Retry.MaxRetries,
		BackoffBase:   seconds(c.Retry.BackoffBaseSeconds),
		BackoffCap:    seconds(c.Retry.BackoffCapSeconds),
		BlockCooldown: seconds(c.Retry.BlockCooldownSeconds),
		BlockCeiling:  c.Retry.BlockCeiling,
	}
}

// LimiterConfig converts the ratelimit section.
func (c Config) LimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		MinInterval: seconds(c.RateLimit.MinIntervalSeconds),
		Jitter:      seconds(c.RateLimit.JitterSeconds),
	}
}

// PageLoadTimeout bounds a single navigation attempt.
func (c Config) PageLoadTimeout() time.Duration {
	return seconds(c.Browser.PageLoadTimeoutSeconds)
}

// StatePath is where cursors are kept: state.path, or a file next to the
// output named after the state driver.
func (c Config) StatePath() string {
	if c.State.Path != "" {
		return c.State.Path
	}
	if c.State.Driver == StateSQLite {
		return c.Output.Path + ".state.db"
	}
	return c.Output.Path + ".cursor.json"
}

// GCSObject is the object name for the uploaded output.
func (c Config) GCSObject() string {
	if c.Output.GCSObject != "" {
		return c.Output.GCSObject
	}
	name := c.Output.Path
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
