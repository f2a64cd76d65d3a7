package extract

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

// ArtistExtractor reads artist pages.
type ArtistExtractor struct {
	baseURL   string
	maxAlbums int
	clock     crawler.Clock
}

// NewArtistExtractor builds an extractor. maxAlbums truncates the
// discography; zero keeps every link.
func NewArtistExtractor(baseURL string, maxAlbums int, clock crawler.Clock) *ArtistExtractor {
	return &ArtistExtractor{baseURL: baseURL, maxAlbums: maxAlbums, clock: clock}
}

// Extract builds an ArtistRecord. artist_id and name are required.
func (e *ArtistExtractor) Extract(page *crawler.Page, sourceURL string) (crawler.ArtistRecord, error) {
	id, ok := pageID(page, sourceURL, crawler.ArtistIDFromURL)
	if !ok {
		return crawler.ArtistRecord{}, &crawler.ExtractionError{Field: "artist_id", URL: sourceURL}
	}
	name := page.Text("h1")
	if name == "" {
		return crawler.ArtistRecord{}, &crawler.ExtractionError{Field: "name", URL: sourceURL}
	}

	rec := crawler.ArtistRecord{
		RecordType: crawler.RecordArtist,
		ArtistID:   id,
		Name:       name,
		Members:    uniqueTexts(labeledCell(page, "Members", "Membros").Find("a[href*='/artist/']"), nil),
		Websites:   e.websites(page),
		SourceURL:  sourceURL,
		ScrapedAt:  e.clock.Now(),
	}
	if bio := crawler.CollapseSpace(labeledCell(page, "Profile", "Perfil").Text()); bio != "" {
		rec.Biography = &bio
	}
	return rec, nil
}

func (e *ArtistExtractor) websites(page *crawler.Page) []string {
	seen := make(map[string]struct{})
	out := []string{}
	labeledCell(page, "Sites", "Websites").Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs, err := crawler.NormalizeURL(e.baseURL, href)
		if err != nil {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})
	return out
}

// DiscographyLinks returns the release and master links on an artist page in
// document order, de-duplicated by album id.
func (e *ArtistExtractor) DiscographyLinks(page *crawler.Page) []crawler.AlbumLink {
	seen := make(map[string]struct{})
	var out []crawler.AlbumLink
	for _, href := range page.Attrs("a[href*='/release/'], a[href*='/master/']", "href") {
		abs, err := crawler.NormalizeURL(e.baseURL, href)
		if err != nil {
			continue
		}
		id, ok := crawler.AlbumIDFromURL(abs)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, crawler.AlbumLink{AlbumID: id, URL: abs})
		if e.maxAlbums > 0 && len(out) >= e.maxAlbums {
			break
		}
	}
	return out
}
