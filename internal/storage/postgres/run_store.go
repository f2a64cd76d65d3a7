package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

// RunStore keeps one row per pipeline run in crawl_runs.
type RunStore struct {
	pool execCloser
}

// NewRunStore wraps an existing pool. The pool is owned by the caller.
func NewRunStore(pool execCloser) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// StartRun records a run as running.
func (s *RunStore) StartRun(ctx context.Context, runID string, genre crawler.GenreRef, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (run_id, genre_id, listing_mode, started_at, state)
		VALUES ($1, $2, $3, $4, 'running')
		ON CONFLICT (run_id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, runID, genre.GenreID, string(genre.ListingMode), startedAt); err != nil {
		return fmt.Errorf("insert crawl run: %w", err)
	}
	return nil
}

// CompleteRun stores the terminal state and counters of a run.
func (s *RunStore) CompleteRun(ctx context.Context, sum crawler.RunSummary) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1,
			state = $2,
			reason = $3,
			error_message = $4,
			artists_persisted = $5,
			artists_skipped = $6,
			albums_persisted = $7,
			albums_skipped = $8,
			pages_crawled = $9,
			cursor_page = $10,
			cursor_offset = $11
		WHERE run_id = $12;
	`
	var errMsg *string
	if sum.Error != "" {
		errMsg = &sum.Error
	}
	if _, err := s.pool.Exec(ctx, query,
		sum.FinishedAt,
		string(sum.State),
		string(sum.Reason),
		errMsg,
		sum.ArtistsPersisted,
		sum.ArtistsSkipped,
		sum.AlbumsPersisted,
		sum.AlbumsSkipped,
		sum.PagesCrawled,
		sum.Cursor.PageIndex,
		sum.Cursor.LastArtistOffset,
		sum.RunID,
	); err != nil {
		return fmt.Errorf("complete crawl run: %w", err)
	}
	return nil
}
