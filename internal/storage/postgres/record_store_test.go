package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

func TestWriteArtistInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	bio := "Band from Leeds."
	rec := crawler.ArtistRecord{
		RecordType: crawler.RecordArtist,
		ArtistID:   "12345",
		Name:       "The Example Band",
		Biography:  &bio,
		Members:    []string{"Alice", "Bob"},
		Genre:      "Rock",
		SourceURL:  "https://www.discogs.com/artist/12345",
		ScrapedAt:  now,
	}

	mock.ExpectExec("INSERT INTO artists").
		WithArgs(
			rec.ArtistID,
			rec.Name,
			rec.Biography,
			[]byte(`["Alice","Bob"]`),
			[]byte(`[]`),
			rec.Genre,
			rec.SourceURL,
			rec.ScrapedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.WriteArtist(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteAlbumInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStore(mock)
	require.NoError(t, err)

	year := 1971
	rec := crawler.AlbumRecord{
		RecordType:  crawler.RecordAlbum,
		AlbumID:     "m500",
		ArtistID:    "12345",
		Title:       "First Album",
		ReleaseYear: &year,
		Styles:      []string{"Prog Rock"},
		SourceURL:   "https://www.discogs.com/master/500",
		ScrapedAt:   time.Unix(1700000000, 0).UTC(),
	}

	mock.ExpectExec("INSERT INTO albums").
		WithArgs(
			rec.AlbumID,
			rec.ArtistID,
			rec.Title,
			rec.ReleaseYear,
			rec.Label,
			[]byte(`["Prog Rock"]`),
			[]byte(`[]`),
			rec.SourceURL,
			rec.ScrapedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.WriteAlbum(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteArtistPropagatesError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStore(mock)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO artists").WillReturnError(errors.New("connection refused"))
	err = store.WriteArtist(context.Background(), crawler.ArtistRecord{ArtistID: "1", Name: "X"})
	require.ErrorContains(t, err, "insert artist 1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStoreRequiresIDs(t *testing.T) {
	t.Parallel()

	_, err := NewRecordStore(nil)
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewRecordStore(mock)
	require.NoError(t, err)

	require.Error(t, store.WriteArtist(context.Background(), crawler.ArtistRecord{}))
	require.Error(t, store.WriteAlbum(context.Background(), crawler.AlbumRecord{}))
}

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStore(mock)
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	genre := crawler.GenreRef{GenreID: "rock", ListingMode: crawler.ListingMostCollected}
	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs("run-1", "rock", "most_collected", started).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, runs.StartRun(context.Background(), "run-1", genre, started))

	sum := crawler.RunSummary{
		RunID:            "run-1",
		State:            crawler.StateFailed,
		Reason:           crawler.FailPagination,
		Error:            "page 3 timed out",
		ArtistsPersisted: 4,
		PagesCrawled:     2,
		Cursor:           crawler.CrawlCursor{PageIndex: 3},
		FinishedAt:       started.Add(time.Minute),
	}
	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs(sum.FinishedAt, "failed", "pagination", &sum.Error, 4, 0, 0, 0, 2, 3, 0, "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, runs.CompleteRun(context.Background(), sum))
	require.NoError(t, mock.ExpectationsWereMet())
}
