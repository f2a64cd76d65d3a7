package crawler

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is a parsed DOM snapshot of a loaded URL. It exposes the find /
// read-text / read-attribute operations extractors need without holding on to
// the live browser session.
type Page struct {
	URL        string
	StatusCode int
	HTML       string
	doc        *goquery.Document
}

// NewPage parses html into a Page.
func NewPage(url string, status int, html string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{
		URL:        url,
		StatusCode: status,
		HTML:       html,
		doc:        doc,
	}, nil
}

// Document exposes the underlying goquery document.
func (p *Page) Document() *goquery.Document {
	return p.doc
}

// Find returns every element matching selector.
func (p *Page) Find(selector string) *goquery.Selection {
	return p.doc.Find(selector)
}

// Text reads the normalized text of the first element matching selector.
func (p *Page) Text(selector string) string {
	return CollapseSpace(p.doc.Find(selector).First().Text())
}

// Texts reads the normalized, non-empty texts of all matching elements.
func (p *Page) Texts(selector string) []string {
	var out []string
	p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if txt := CollapseSpace(s.Text()); txt != "" {
			out = append(out, txt)
		}
	})
	return out
}

// Attr reads an attribute of the first element matching selector.
func (p *Page) Attr(selector, name string) (string, bool) {
	val, ok := p.doc.Find(selector).First().Attr(name)
	if !ok {
		return "", false
	}
	val = strings.TrimSpace(val)
	return val, val != ""
}

// Attrs reads an attribute from every matching element, skipping empty values.
func (p *Page) Attrs(selector, name string) []string {
	var out []string
	p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if val, ok := s.Attr(name); ok && strings.TrimSpace(val) != "" {
			out = append(out, strings.TrimSpace(val))
		}
	})
	return out
}

// HasBody reports whether the DOM has any rendered body content.
func (p *Page) HasBody() bool {
	body := p.doc.Find("body")
	if body.Length() == 0 {
		return false
	}
	return strings.TrimSpace(body.Text()) != "" || body.Children().Length() > 0
}

// CollapseSpace trims s and collapses internal whitespace runs to one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
