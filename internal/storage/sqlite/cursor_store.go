// Package sqlite keeps crawl cursors in a sqlite3 database file.
package sqlite

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

//go:embed schema.sql
var schema string

// cursorRow maps the crawl_cursors table.
type cursorRow struct {
	GenreID          string `gorm:"primaryKey"`
	PageIndex        int
	LastArtistOffset int
	UpdatedAt        time.Time
}

func (cursorRow) TableName() string { return "crawl_cursors" }

// CursorStore persists one cursor per genre.
type CursorStore struct {
	db *gorm.DB
}

// Open returns a CursorStore backed by a migrated database file at path,
// creating the file if necessary.
func Open(path string) (*CursorStore, error) {
	if path == "" {
		return nil, &crawler.ConfigError{Field: "state.path", Msg: "sqlite path is required"}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening db file at '%s': %w", path, err)
	}
	if err := db.Exec(schema).Error; err != nil {
		return nil, fmt.Errorf("error migrating db at '%s': %w", path, err)
	}
	return &CursorStore{db: db}, nil
}

// LoadCursor returns the saved cursor for genreID. ok is false when none was
// saved yet.
func (s *CursorStore) LoadCursor(ctx context.Context, genreID string) (crawler.CrawlCursor, bool, error) {
	var row cursorRow
	err := s.db.WithContext(ctx).Where("genre_id = ?", genreID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return crawler.CrawlCursor{}, false, nil
	}
	if err != nil {
		return crawler.CrawlCursor{}, false, fmt.Errorf("error loading cursor for genre '%s': %w", genreID, err)
	}
	return crawler.CrawlCursor{
		GenreID:          row.GenreID,
		PageIndex:        row.PageIndex,
		LastArtistOffset: row.LastArtistOffset,
		UpdatedAt:        row.UpdatedAt.UTC(),
	}, true, nil
}

// SaveCursor upserts the cursor for its genre.
func (s *CursorStore) SaveCursor(ctx context.Context, cursor crawler.CrawlCursor) error {
	if cursor.GenreID == "" {
		return fmt.Errorf("no genre id")
	}
	row := cursorRow{
		GenreID:          cursor.GenreID,
		PageIndex:        cursor.PageIndex,
		LastArtistOffset: cursor.LastArtistOffset,
		UpdatedAt:        cursor.UpdatedAt.UTC(),
	}
	if err := s.db.
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "genre_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"page_index", "last_artist_offset", "updated_at"}),
		}).
		Create(&row).
		Error; err != nil {
		return fmt.Errorf("error saving cursor for genre '%s': %w", cursor.GenreID, err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *CursorStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sqlite handle: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
