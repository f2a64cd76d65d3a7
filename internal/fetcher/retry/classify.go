package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

var blockSelectors = []string{
	"#challenge-form",
	"#px-captcha",
	".g-recaptcha",
	".h-captcha",
	"iframe[src*='captcha']",
}

var blockPhrases = []string{
	"access denied",
	"request rejected",
	"you have been blocked",
	"attention required",
	"just a moment",
	"too many requests",
}

// Classify inspects a loaded page and reports the failure reason, if any.
// ok is true when the page is usable.
func Classify(page *crawler.Page) (reason crawler.FetchReason, ok bool) {
	switch status := page.StatusCode; {
	case status == http.StatusNotFound || status == http.StatusGone:
		return crawler.ReasonNotFound, false
	case status == http.StatusTooManyRequests || status == http.StatusForbidden:
		return crawler.ReasonBlocked, false
	case status >= http.StatusInternalServerError:
		return crawler.ReasonTransient, false
	}
	if blockedDOM(page) {
		return crawler.ReasonBlocked, false
	}
	if !page.HasBody() {
		return crawler.ReasonTransient, false
	}
	return "", true
}

// classifyError maps a browser error to a retry reason.
func classifyError(err error) crawler.FetchReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return crawler.ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return crawler.ReasonTimeout
	}
	return crawler.ReasonTransient
}

func blockedDOM(page *crawler.Page) bool {
	for _, sel := range blockSelectors {
		if page.Find(sel).Length() > 0 {
			return true
		}
	}
	headline := strings.ToLower(page.Text("title") + " " + page.Text("h1"))
	for _, phrase := range blockPhrases {
		if strings.Contains(headline, phrase) {
			return true
		}
	}
	return false
}
