package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL resolves href against base and standardizes it so the same
// catalog page always maps to the same string. It lowercases the scheme and
// host, removes default ports, and drops the query string and fragment.
func NormalizeURL(base, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		ref = b.ResolveReference(ref)
	}

	ref.Scheme = strings.ToLower(ref.Scheme)
	ref.Host = strings.ToLower(ref.Host)

	if ref.Scheme == "http" && strings.HasSuffix(ref.Host, ":80") {
		ref.Host = strings.TrimSuffix(ref.Host, ":80")
	}
	if ref.Scheme == "https" && strings.HasSuffix(ref.Host, ":443") {
		ref.Host = strings.TrimSuffix(ref.Host, ":443")
	}

	ref.Fragment = ""
	ref.RawQuery = ""
	ref.ForceQuery = false

	return ref.String(), nil
}

// ArtistIDFromURL returns the catalog artist id encoded in an artist URL:
// "/artist/12345-The-Band" yields "12345".
func ArtistIDFromURL(raw string) (string, bool) {
	return idAfter(raw, "artist")
}

// AlbumIDFromURL returns the album id for a release or master URL. Master ids
// are prefixed with "m" because releases and masters are numbered separately.
func AlbumIDFromURL(raw string) (string, bool) {
	if id, ok := idAfter(raw, "release"); ok {
		return id, true
	}
	if id, ok := idAfter(raw, "master"); ok {
		return "m" + id, true
	}
	return "", false
}

func idAfter(raw, kind string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i < len(segments)-1; i++ {
		if segments[i] != kind {
			continue
		}
		slug := segments[i+1]
		id, _, _ := strings.Cut(slug, "-")
		id = strings.TrimSpace(id)
		if id == "" {
			return "", false
		}
		return id, true
	}
	return "", false
}
