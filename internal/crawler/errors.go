package crawler

import (
	"errors"
	"fmt"
)

// FetchReason classifies why a page load failed.
type FetchReason string

// Fetch failure reasons.
const (
	ReasonTimeout   FetchReason = "timeout"
	ReasonNotFound  FetchReason = "not_found"
	ReasonTransient FetchReason = "transient"
	ReasonBlocked   FetchReason = "blocked"
)

// ErrBlockCeiling is wrapped by a FetchError once the site kept rejecting
// requests beyond the configured ceiling.
var ErrBlockCeiling = errors.New("block ceiling exceeded")

// FetchError is returned by the retrying fetcher after it gave up on a URL.
type FetchError struct {
	URL      string
	Reason   FetchReason
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s after %d attempt(s)", e.URL, e.Reason, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %s after %d attempt(s): %v", e.URL, e.Reason, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a definitive not-found fetch failure.
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Reason == ReasonNotFound
}

// ExtractionError marks a page that lacks a structurally required field.
type ExtractionError struct {
	Field string
	URL   string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: missing %s", e.URL, e.Field)
}

// PaginationError stops a genre crawl at the page that could not be loaded.
type PaginationError struct {
	GenreID   string
	PageIndex int
	Err       error
}

func (e *PaginationError) Error() string {
	return fmt.Sprintf("genre %s page %d: %v", e.GenreID, e.PageIndex, e.Err)
}

func (e *PaginationError) Unwrap() error {
	return e.Err
}

// ConfigError is fatal and surfaces before any fetch happens.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config %s: %s", e.Field, e.Msg)
}
