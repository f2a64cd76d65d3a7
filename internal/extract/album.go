package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

var (
	yearPattern     = regexp.MustCompile(`\b(1[89]\d{2}|20\d{2})\b`)
	durationPattern = regexp.MustCompile(`^\d{1,3}:\d{2}(:\d{2})?$`)
	numericOnly     = regexp.MustCompile(`^\d+$`)
)

// AlbumExtractor reads release and master pages.
type AlbumExtractor struct {
	clock crawler.Clock
}

// NewAlbumExtractor builds an extractor.
func NewAlbumExtractor(clock crawler.Clock) *AlbumExtractor {
	return &AlbumExtractor{clock: clock}
}

// Extract builds an AlbumRecord for artistID. album_id and title are
// required; everything else degrades to null or empty.
func (e *AlbumExtractor) Extract(page *crawler.Page, artistID, sourceURL string) (crawler.AlbumRecord, error) {
	id, ok := pageID(page, sourceURL, crawler.AlbumIDFromURL)
	if !ok {
		return crawler.AlbumRecord{}, &crawler.ExtractionError{Field: "album_id", URL: sourceURL}
	}
	title := page.Text("h1")
	if title == "" {
		return crawler.AlbumRecord{}, &crawler.ExtractionError{Field: "title", URL: sourceURL}
	}

	rec := crawler.AlbumRecord{
		RecordType:  crawler.RecordAlbum,
		AlbumID:     id,
		ArtistID:    artistID,
		Title:       title,
		ReleaseYear: releaseYear(page),
		Styles: uniqueTexts(labeledCell(page, "Style", "Styles", "Estilo").Find("a"), func(s string) bool {
			return len(s) > 2 && len(s) < 30
		}),
		Tracks:    tracks(page, title),
		SourceURL: sourceURL,
		ScrapedAt: e.clock.Now(),
	}
	if label := page.Text("a[href*='/label/']"); label != "" {
		rec.Label = &label
	}
	return rec, nil
}

// releaseYear reads the Year/Released cell: a year token in its text first,
// then the year= query of its link.
func releaseYear(page *crawler.Page) *int {
	cell := labeledCell(page, "Year", "Released", "Ano")
	if cell.Length() == 0 {
		return nil
	}
	if y, ok := ParseYear(cell.Text()); ok {
		return &y
	}
	var found *int
	cell.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		u, err := url.Parse(href)
		if err != nil {
			return true
		}
		if y, ok := ParseYear(u.Query().Get("year")); ok {
			found = &y
			return false
		}
		return true
	})
	return found
}

// ParseYear returns the first year-like token (1800-2099) in s.
func ParseYear(s string) (int, bool) {
	m := yearPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	y, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return y, true
}

// tracks reads tracklist rows. Rows without a usable title are skipped and
// positions are renumbered from 1.
func tracks(page *crawler.Page, albumTitle string) []crawler.Track {
	out := []crawler.Track{}
	page.Find("table[class*='tracklist'] tr, #tracklist tr").Each(func(_ int, row *goquery.Selection) {
		title := crawler.CollapseSpace(row.Find("span[class*='tracklistTitle'], td[class*='trackTitle'] span, td[class*='trackTitle']").First().Text())
		if title == "" {
			title = fallbackTitle(row)
		}
		if title == "" || numericOnly.MatchString(title) {
			return
		}
		if albumTitle != "" && strings.Contains(title, albumTitle) && len(title) < len(albumTitle)+10 {
			return
		}
		t := crawler.Track{Position: len(out) + 1, Title: title}
		if d := rowDuration(row); d != "" {
			t.Duration = &d
		}
		out = append(out, t)
	})
	return out
}

func rowDuration(row *goquery.Selection) string {
	if d := crawler.CollapseSpace(row.Find("[class*='duration']").First().Text()); d != "" {
		return d
	}
	var d string
	row.Find("td").EachWithBreak(func(_ int, td *goquery.Selection) bool {
		if txt := crawler.CollapseSpace(td.Text()); durationPattern.MatchString(txt) {
			d = txt
			return false
		}
		return true
	})
	return d
}

func fallbackTitle(row *goquery.Selection) string {
	var title string
	row.Find("td > span, td > a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		txt := crawler.CollapseSpace(s.Text())
		if len(txt) > 5 && !durationPattern.MatchString(txt) {
			title = txt
			return false
		}
		return true
	})
	return title
}
