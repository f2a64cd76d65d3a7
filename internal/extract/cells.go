package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

// labeledCell returns the value cell that follows the first header matching
// one of labels. Both the table layout (th/td) and the older div layout
// (.head/.content) are supported.
func labeledCell(page *crawler.Page, labels ...string) *goquery.Selection {
	head := page.Find("th, div.head").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return matchesLabel(s.Text(), labels)
	}).First()
	if head.Is("div") {
		return head.NextAllFiltered("div.content").First()
	}
	return head.NextAllFiltered("td").First()
}

func matchesLabel(text string, labels []string) bool {
	text = strings.TrimSuffix(crawler.CollapseSpace(text), ":")
	for _, l := range labels {
		if strings.EqualFold(text, l) {
			return true
		}
	}
	return false
}

// uniqueTexts returns the collapsed, non-empty, de-duplicated texts of sel in
// document order.
func uniqueTexts(sel *goquery.Selection, keep func(string) bool) []string {
	seen := make(map[string]struct{})
	out := []string{}
	sel.Each(func(_ int, s *goquery.Selection) {
		txt := crawler.CollapseSpace(s.Text())
		if txt == "" || (keep != nil && !keep(txt)) {
			return
		}
		if _, dup := seen[txt]; dup {
			return
		}
		seen[txt] = struct{}{}
		out = append(out, txt)
	})
	return out
}

// pageID resolves a canonical id from the page: canonical link, then og:url,
// then the URL it was loaded from.
func pageID(page *crawler.Page, sourceURL string, parse func(string) (string, bool)) (string, bool) {
	if href, ok := page.Attr("link[rel='canonical']", "href"); ok {
		if id, ok := parse(href); ok {
			return id, true
		}
	}
	if content, ok := page.Attr("meta[property='og:url']", "content"); ok {
		if id, ok := parse(content); ok {
			return id, true
		}
	}
	return parse(sourceURL)
}
