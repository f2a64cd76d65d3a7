package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		base string
		href string
		want string
	}{
		{"relative path", "https://www.discogs.com/genre/rock", "/artist/1-A?query=x", "https://www.discogs.com/artist/1-A"},
		{"absolute with fragment", "", "HTTPS://WWW.Discogs.com:443/artist/2-B#top", "https://www.discogs.com/artist/2-B"},
		{"default http port", "", "http://example.com:80/release/3", "http://example.com/release/3"},
		{"other host kept", "https://www.discogs.com", "https://other.com/link", "https://other.com/link"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.base, tt.href)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLInvalid(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL("", "http://%zz")
	require.Error(t, err)
}

func TestArtistIDFromURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"https://www.discogs.com/artist/12345-The-Band", "12345", true},
		{"/artist/a1", "a1", true},
		{"https://www.discogs.com/fr/artist/77-Nom", "77", true},
		{"https://www.discogs.com/release/9-X", "", false},
		{"/artist/", "", false},
	}
	for _, tt := range tests {
		got, ok := ArtistIDFromURL(tt.raw)
		assert.Equal(t, tt.wantOK, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestAlbumIDFromURL(t *testing.T) {
	t.Parallel()

	id, ok := AlbumIDFromURL("https://www.discogs.com/release/100-Some-Album")
	require.True(t, ok)
	assert.Equal(t, "100", id)

	id, ok = AlbumIDFromURL("/master/200-Other")
	require.True(t, ok)
	assert.Equal(t, "m200", id)

	_, ok = AlbumIDFromURL("/label/1-Label")
	assert.False(t, ok)
}

func TestParseListingMode(t *testing.T) {
	t.Parallel()

	mode, err := ParseListingMode(" Top_Artists ")
	require.NoError(t, err)
	assert.Equal(t, ListingTopArtists, mode)

	mode, err = ParseListingMode("")
	require.NoError(t, err)
	assert.Equal(t, ListingMostCollected, mode)

	_, err = ParseListingMode("bogus")
	require.Error(t, err)
}

func TestCursorNormalize(t *testing.T) {
	t.Parallel()

	c := CrawlCursor{LastArtistOffset: -3}.Normalize("rock")
	assert.Equal(t, "rock", c.GenreID)
	assert.Equal(t, 1, c.PageIndex)
	assert.Zero(t, c.LastArtistOffset)
}
