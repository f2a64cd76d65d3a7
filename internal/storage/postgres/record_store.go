// Package postgres mirrors crawl output and run history into Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// NewPool opens a pgx pool from cfg.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// RecordStore writes artist and album rows. Rows that already exist are left
// untouched, so replays of the same record are harmless.
type RecordStore struct {
	pool execCloser
}

// NewRecordStore wraps an existing pool (a *pgxpool.Pool or a pgxmock pool).
func NewRecordStore(pool execCloser) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RecordStore{pool: pool}, nil
}

const insertArtist = `
INSERT INTO artists (
	artist_id,
	name,
	biography,
	members,
	websites,
	genre,
	source_url,
	scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (artist_id) DO NOTHING`

const insertAlbum = `
INSERT INTO albums (
	album_id,
	artist_id,
	title,
	release_year,
	label,
	styles,
	tracks,
	source_url,
	scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (album_id) DO NOTHING`

// WriteArtist inserts an artist row.
func (s *RecordStore) WriteArtist(ctx context.Context, rec crawler.ArtistRecord) error {
	if rec.ArtistID == "" {
		return fmt.Errorf("artist id is required")
	}
	members, err := jsonArray(rec.Members)
	if err != nil {
		return err
	}
	websites, err := jsonArray(rec.Websites)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, insertArtist,
		rec.ArtistID,
		rec.Name,
		rec.Biography,
		members,
		websites,
		rec.Genre,
		rec.SourceURL,
		rec.ScrapedAt,
	); err != nil {
		return fmt.Errorf("insert artist %s: %w", rec.ArtistID, err)
	}
	return nil
}

// WriteAlbum inserts an album row.
func (s *RecordStore) WriteAlbum(ctx context.Context, rec crawler.AlbumRecord) error {
	if rec.AlbumID == "" {
		return fmt.Errorf("album id is required")
	}
	styles, err := jsonArray(rec.Styles)
	if err != nil {
		return err
	}
	tracks, err := jsonArray(rec.Tracks)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, insertAlbum,
		rec.AlbumID,
		rec.ArtistID,
		rec.Title,
		rec.ReleaseYear,
		rec.Label,
		styles,
		tracks,
		rec.SourceURL,
		rec.ScrapedAt,
	); err != nil {
		return fmt.Errorf("insert album %s: %w", rec.AlbumID, err)
	}
	return nil
}

// Close releases the pool.
func (s *RecordStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func jsonArray[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return data, nil
}
