package pipeline

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

// phase is the runner's position in its state machine.
type phase string

const (
	phaseIdle             phase = "idle"
	phaseCrawlingGenre    phase = "crawling_genre"
	phaseProcessingArtist phase = "processing_artist"
	phaseProcessingAlbums phase = "processing_albums"
	phaseDone             phase = "done"
	phaseFailed           phase = "failed"
	phaseStopped          phase = "stopped"
)

// errStopped unwinds the loops after a cooperative stop.
var errStopped = errors.New("stop requested")

// errLimitReached unwinds the loops once max_artists new artists were stored.
var errLimitReached = errors.New("artist limit reached")

// failure is a non-recoverable error tagged with the reason reported in the
// run summary.
type failure struct {
	reason crawler.FailureReason
	err    error
}

func (f *failure) Error() string {
	return fmt.Sprintf("%s: %v", f.reason, f.err)
}

func (f *failure) Unwrap() error {
	return f.err
}

func fail(reason crawler.FailureReason, err error) error {
	return &failure{reason: reason, err: err}
}

// fetchFailure decides whether a fetch error ends the run. Only the block
// ceiling does; every other fetch error is a record-level skip.
func fetchFailure(err error) error {
	if errors.Is(err, crawler.ErrBlockCeiling) {
		return fail(crawler.FailBlocked, err)
	}
	return nil
}
