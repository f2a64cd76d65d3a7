package local_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
	"github.com/JakeFAU/discogs-crawler/internal/storage/local"
)

func TestCursorStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rock.jsonl.cursor.json")
	store, err := local.NewCursorStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := store.LoadCursor(ctx, "rock")
	require.NoError(t, err)
	assert.False(t, ok)

	saved := crawler.CrawlCursor{GenreID: "rock", PageIndex: 3, LastArtistOffset: 7, UpdatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, store.SaveCursor(ctx, saved))
	require.NoError(t, store.SaveCursor(ctx, crawler.CrawlCursor{GenreID: "jazz", PageIndex: 2}))

	reopened, err := local.NewCursorStore(path)
	require.NoError(t, err)
	got, ok, err := reopened.LoadCursor(ctx, "rock")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, saved, got)

	jazz, ok, err := reopened.LoadCursor(ctx, "jazz")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, jazz.PageIndex)
	require.NoError(t, reopened.Close())
}

func TestCursorStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := local.NewCursorStore(filepath.Join(dir, "cursor.json"))
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		require.NoError(t, store.SaveCursor(context.Background(), crawler.CrawlCursor{GenreID: "rock", PageIndex: i}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cursor.json", entries[0].Name())
}

func TestCursorStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	store, err := local.NewCursorStore(path)
	require.NoError(t, err)

	_, _, err = store.LoadCursor(context.Background(), "rock")
	assert.Error(t, err)
}

func TestNewCursorStoreRequiresPath(t *testing.T) {
	_, err := local.NewCursorStore("")
	var cfgErr *crawler.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "state.path", cfgErr.Field)
}
