package crawler

import (
	"fmt"
	"strings"
	"time"
)

// ListingMode selects which section of a genre page lists artists.
type ListingMode string

// Listing sections exposed on a genre page.
const (
	ListingMostCollected ListingMode = "most_collected"
	ListingTopArtists    ListingMode = "top_artists"
	ListingEarlyMasters  ListingMode = "early_masters"
)

// ParseListingMode validates a caller-supplied listing mode.
func ParseListingMode(raw string) (ListingMode, error) {
	mode := ListingMode(strings.ToLower(strings.TrimSpace(raw)))
	switch mode {
	case ListingMostCollected, ListingTopArtists, ListingEarlyMasters:
		return mode, nil
	case "":
		return ListingMostCollected, nil
	default:
		return "", fmt.Errorf("unknown listing mode %q", raw)
	}
}

// GenreRef identifies the genre listing to crawl. It is built once from
// configuration and never mutated.
type GenreRef struct {
	GenreID     string      `json:"genre_id"`
	GenreName   string      `json:"genre_name"`
	ListingMode ListingMode `json:"listing_mode"`
}

// RecordType discriminates lines in the output stream.
type RecordType string

// Output record kinds.
const (
	RecordArtist RecordType = "artist"
	RecordAlbum  RecordType = "album"
)

// ArtistRecord is written once per artist_id.
type ArtistRecord struct {
	RecordType RecordType `json:"record_type"`
	ArtistID   string     `json:"artist_id"`
	Name       string     `json:"name"`
	Biography  *string    `json:"biography"`
	Members    []string   `json:"members"`
	Websites   []string   `json:"websites"`
	Genre      string     `json:"genre,omitempty"`
	SourceURL  string     `json:"source_url"`
	ScrapedAt  time.Time  `json:"scraped_at"`
}

// Track is a single tracklist row of an album.
type Track struct {
	Position int     `json:"position"`
	Title    string  `json:"title"`
	Duration *string `json:"duration"`
}

// AlbumRecord is written once per album_id and references its artist.
type AlbumRecord struct {
	RecordType  RecordType `json:"record_type"`
	AlbumID     string     `json:"album_id"`
	ArtistID    string     `json:"artist_id"`
	Title       string     `json:"title"`
	ReleaseYear *int       `json:"release_year"`
	Label       *string    `json:"label"`
	Styles      []string   `json:"styles"`
	Tracks      []Track    `json:"tracks"`
	SourceURL   string     `json:"source_url"`
	ScrapedAt   time.Time  `json:"scraped_at"`
}

// CrawlCursor is the resumable position within a genre listing. PageIndex is
// 1-based; LastArtistOffset counts links already handled on that page.
type CrawlCursor struct {
	GenreID          string    `json:"genre_id"`
	PageIndex        int       `json:"page_index"`
	LastArtistOffset int       `json:"last_artist_offset"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Normalize fills the defaults of a zero cursor.
func (c CrawlCursor) Normalize(genreID string) CrawlCursor {
	if c.GenreID == "" {
		c.GenreID = genreID
	}
	if c.PageIndex < 1 {
		c.PageIndex = 1
	}
	if c.LastArtistOffset < 0 {
		c.LastArtistOffset = 0
	}
	return c
}

// ArtistLink is one artist entry discovered on a listing page.
type ArtistLink struct {
	ArtistID string `json:"artist_id"`
	URL      string `json:"url"`
}

// AlbumLink is one discography entry discovered on an artist page.
type AlbumLink struct {
	AlbumID string `json:"album_id"`
	URL     string `json:"url"`
}

// ArtistLinkBatch is the ordered set of artist links found on one listing
// page. Offset is the number of leading links dropped when resuming.
type ArtistLinkBatch struct {
	PageIndex int
	Offset    int
	Links     []ArtistLink
}

// Navigation is what a browser reports after loading a URL.
type Navigation struct {
	URL        string
	StatusCode int
}
