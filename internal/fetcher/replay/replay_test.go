package replay

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySequence(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")
	m := NewMemory().Add("https://x/a",
		Response{Err: boom},
		Response{Status: http.StatusOK, HTML: "<html><body>ok</body></html>"},
	)

	_, err := m.Navigate(ctx, "https://x/a")
	require.ErrorIs(t, err, boom)

	nav, err := m.Navigate(ctx, "https://x/a")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, nav.StatusCode)
	html, err := m.PageSource(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "ok")

	// The last response repeats.
	_, err = m.Navigate(ctx, "https://x/a")
	require.NoError(t, err)
	assert.Equal(t, 3, m.Calls("https://x/a"))
}

func TestMemoryUnknownURLIsNotFound(t *testing.T) {
	m := NewMemory()
	nav, err := m.Navigate(context.Background(), "https://x/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, nav.StatusCode)
	assert.Equal(t, []string{"https://x/missing"}, m.History())
}

func TestMemoryCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemory().Navigate(ctx, "https://x/a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pages"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pages", "genre.html"), []byte("<ul id='most_collected'></ul>"), 0o600))
	manifest := `pages:
  - url: https://www.discogs.com/genre/rock
    file: pages/genre.html
  - url: https://www.discogs.com/artist/9-Gone
    status: 404
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o600))

	m, err := Load(context.Background(), dir)
	require.NoError(t, err)

	nav, err := m.Navigate(context.Background(), "https://www.discogs.com/genre/rock")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, nav.StatusCode)
	html, err := m.PageSource(context.Background())
	require.NoError(t, err)
	assert.Contains(t, html, "most_collected")

	nav, err = m.Navigate(context.Background(), "https://www.discogs.com/artist/9-Gone")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, nav.StatusCode)
}

func TestLoadRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	manifest := "pages:\n  - url: https://x/a\n    file: ../../etc/passwd\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o600))
	_, err := Load(context.Background(), dir)
	assert.ErrorContains(t, err, "path traversal")
}

func TestRecorderRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	live := NewMemory().
		AddHTML("https://www.discogs.com/artist/1-A", "<html><body><h1>A</h1></body></html>").
		AddHTML("https://www.discogs.com/release/2-B", "<html><body><h1>B</h1></body></html>")

	rec, err := NewRecorder(live, dir, nil)
	require.NoError(t, err)
	for _, u := range []string{"https://www.discogs.com/artist/1-A", "https://www.discogs.com/release/2-B"} {
		_, err := rec.Navigate(ctx, u)
		require.NoError(t, err)
		_, err = rec.PageSource(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, rec.DismissCookieBanner(ctx))
	require.NoError(t, rec.Close())
	assert.True(t, live.Closed())
	assert.Equal(t, 1, live.Dismissals())

	manifest, err := ReadManifest(dir)
	require.NoError(t, err)
	require.Len(t, manifest.Pages, 2)

	replayed, err := Load(ctx, dir)
	require.NoError(t, err)
	_, err = replayed.Navigate(ctx, "https://www.discogs.com/release/2-B")
	require.NoError(t, err)
	html, err := replayed.PageSource(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "<h1>B</h1>")
}
