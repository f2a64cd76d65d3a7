package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

// CursorStore keeps one cursor per genre in a JSON file.
type CursorStore struct {
	mu   sync.Mutex
	path string
}

type cursorFile struct {
	Cursors map[string]crawler.CrawlCursor `json:"cursors"`
}

// NewCursorStore returns a store backed by path. The parent directory must be
// writable; the file itself is created on the first save.
func NewCursorStore(path string) (*CursorStore, error) {
	if path == "" {
		return nil, &crawler.ConfigError{Field: "state.path", Msg: "cursor file path is required"}
	}
	if err := ensureWritableDir(filepath.Dir(path)); err != nil {
		return nil, &crawler.ConfigError{Field: "state.path", Msg: err.Error()}
	}
	return &CursorStore{path: path}, nil
}

// LoadCursor returns the saved cursor for genreID. ok is false when nothing
// was saved yet.
func (s *CursorStore) LoadCursor(_ context.Context, genreID string) (crawler.CrawlCursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return crawler.CrawlCursor{}, false, err
	}
	cur, ok := file.Cursors[genreID]
	return cur, ok, nil
}

// SaveCursor replaces the stored cursor for cursor.GenreID.
func (s *CursorStore) SaveCursor(_ context.Context, cursor crawler.CrawlCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.read()
	if err != nil {
		return err
	}
	file.Cursors[cursor.GenreID] = cursor
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cursor file: %w", err)
	}
	if err := writeFileAtomic(s.path, append(data, '\n')); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// Close is a no-op; every save is already durable.
func (s *CursorStore) Close() error {
	return nil
}

func (s *CursorStore) read() (cursorFile, error) {
	file := cursorFile{Cursors: map[string]crawler.CrawlCursor{}}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return file, nil
	}
	if err != nil {
		return file, fmt.Errorf("read cursor file: %w", err)
	}
	if len(data) == 0 {
		return file, nil
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("decode cursor file %s: %w", s.path, err)
	}
	if file.Cursors == nil {
		file.Cursors = map[string]crawler.CrawlCursor{}
	}
	return file, nil
}
