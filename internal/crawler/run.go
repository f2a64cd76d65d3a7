package crawler

import "time"

// RunState is the terminal state of a pipeline run.
type RunState string

// Terminal pipeline states.
const (
	StateDone    RunState = "done"
	StateFailed  RunState = "failed"
	StateStopped RunState = "stopped"
)

// FailureReason explains a Failed run.
type FailureReason string

// Failure reasons.
const (
	FailPagination FailureReason = "pagination"
	FailBlocked    FailureReason = "blocked"
	FailSink       FailureReason = "sink"
	FailConfig     FailureReason = "config"
)

// RunSummary reports what a pipeline run did.
type RunSummary struct {
	RunID            string        `json:"run_id"`
	GenreID          string        `json:"genre_id"`
	GenreName        string        `json:"genre_name"`
	State            RunState      `json:"state"`
	Reason           FailureReason `json:"reason,omitempty"`
	Error            string        `json:"error,omitempty"`
	ArtistsPersisted int           `json:"artists_persisted"`
	ArtistsSkipped   int           `json:"artists_skipped"`
	ArtistsSeen      int           `json:"artists_already_seen"`
	AlbumsPersisted  int           `json:"albums_persisted"`
	AlbumsSkipped    int           `json:"albums_skipped"`
	AlbumsSeen       int           `json:"albums_already_seen"`
	PagesCrawled     int           `json:"pages_crawled"`
	Cursor           CrawlCursor   `json:"cursor"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	OutputURI        string        `json:"output_uri,omitempty"`
}

// Duration is the wall time of the run.
func (s RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Succeeded reports whether the run ended without failure.
func (s RunSummary) Succeeded() bool {
	return s.State == StateDone || s.State == StateStopped
}
