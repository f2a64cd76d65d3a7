package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, crawler.GenreRef{GenreID: "rock", GenreName: "Rock", ListingMode: crawler.ListingMostCollected}, cfg.GenreRef())
	assert.Equal(t, "https://www.discogs.com", cfg.Crawl.BaseURL)
	assert.Equal(t, DriverChromedp, cfg.Browser.Driver)
	assert.Equal(t, 20*time.Second, cfg.PageLoadTimeout())
	assert.Equal(t, "discogs_data.jsonl.cursor.json", cfg.StatePath())

	policy := cfg.RetryPolicy()
	assert.Equal(t, 3, policy.MaxRetries)
	assert.Equal(t, 2*time.Second, policy.BackoffBase)
	assert.Equal(t, time.Minute, policy.BackoffCap)
	assert.Equal(t, 2*time.Minute, policy.BlockCooldown)
	assert.Equal(t, 5, policy.BlockCeiling)

	lim := cfg.LimiterConfig()
	assert.Equal(t, time.Second, lim.MinInterval)
	assert.Equal(t, 1500*time.Millisecond, lim.Jitter)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
genre:
  id: jazz
  name: Jazz
  listing_mode: top_artists
output:
  path: /tmp/jazz.jsonl
  gcs_bucket: crawl-output
crawl:
  resume: true
  max_pages: 4
  max_artists: 10
  max_albums_per_artist: 10
ratelimit:
  min_interval_seconds: 0.5
retry:
  max_retries: 1
  backoff_base_seconds: 0.25
  backoff_cap_seconds: 4
browser:
  driver: replay
  replay_dir: fixtures/jazz
state:
  driver: sqlite
notify:
  pubsub:
    project_id: my-project
    topic: crawl-runs
logging:
  development: true
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, crawler.ListingTopArtists, cfg.GenreRef().ListingMode)
	assert.True(t, cfg.Crawl.Resume)
	assert.Equal(t, 10, cfg.Crawl.MaxArtists)
	assert.Equal(t, 500*time.Millisecond, cfg.LimiterConfig().MinInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryPolicy().BackoffBase)
	assert.Equal(t, "/tmp/jazz.jsonl.state.db", cfg.StatePath())
	assert.Equal(t, "jazz.jsonl", cfg.GCSObject())
	assert.Equal(t, "crawl-runs", cfg.Notify.PubSub.Topic)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadEnvAndFlags(t *testing.T) {
	t.Setenv("DISCOCRAWL_GENRE_ID", "electronic")
	t.Setenv("DISCOCRAWL_CRAWL_MAX_PAGES", "7")
	t.Setenv("DISCOCRAWL_OUTPUT_PATH", "from-env.jsonl")

	fs := pflag.NewFlagSet("crawl", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--output", "from-flag.jsonl", "--driver", "http", "--resume"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, "electronic", cfg.Genre.ID)
	assert.Equal(t, 7, cfg.Crawl.MaxPages)
	assert.Equal(t, "from-flag.jsonl", cfg.Output.Path)
	assert.Equal(t, DriverHTTP, cfg.Browser.Driver)
	assert.True(t, cfg.Crawl.Resume)
	// Unset flags do not clobber defaults.
	assert.True(t, cfg.Browser.Headless)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	var cfgErr *crawler.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestValidate(t *testing.T) {
	base, err := Load("", nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing genre", func(c *Config) { c.Genre.ID = " " }, "genre.id"},
		{"missing output", func(c *Config) { c.Output.Path = "" }, "output.path"},
		{"bad listing mode", func(c *Config) { c.Genre.ListingMode = "newest" }, "genre.listing_mode"},
		{"relative base url", func(c *Config) { c.Crawl.BaseURL = "discogs.com" }, "crawl.base_url"},
		{"negative max artists", func(c *Config) { c.Crawl.MaxArtists = -1 }, "crawl.max_artists"},
		{"cap below base", func(c *Config) { c.Retry.BackoffCapSeconds = 1 }, "retry.backoff_cap_seconds"},
		{"zero timeout", func(c *Config) { c.Browser.PageLoadTimeoutSeconds = 0 }, "browser.page_load_timeout_seconds"},
		{"unknown driver", func(c *Config) { c.Browser.Driver = "selenium" }, "browser.driver"},
		{"replay without dir", func(c *Config) { c.Browser.Driver = DriverReplay }, "browser.replay_dir"},
		{"unknown state driver", func(c *Config) { c.State.Driver = "redis" }, "state.driver"},
		{"object without bucket", func(c *Config) { c.Output.GCSObject = "x.jsonl" }, "output.gcs_bucket"},
		{"half pubsub", func(c *Config) { c.Notify.PubSub.Topic = "runs" }, "notify.pubsub"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			var cfgErr *crawler.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}
