// Package sink appends crawl records to durable outputs.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

// JSONL appends one JSON record per line to a local file. Each write is
// synced before it returns so a crash never loses an acknowledged record.
type JSONL struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenJSONL opens path for appending, creating it if needed. A file whose
// last line lacks a newline (a crash mid-write) is repaired first so the next
// record starts on its own line. Failure to open is a *crawler.ConfigError.
func OpenJSONL(path string) (*JSONL, error) {
	if path == "" {
		return nil, &crawler.ConfigError{Field: "output.path", Msg: "output path is required"}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, &crawler.ConfigError{Field: "output.path", Msg: fmt.Sprintf("create output dir: %v", err)}
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644) // #nosec G302 G304 -- output is meant to be shared.
	if err != nil {
		return nil, &crawler.ConfigError{Field: "output.path", Msg: fmt.Sprintf("open output: %v", err)}
	}
	if err := repairTrailingNewline(f); err != nil {
		_ = f.Close()
		return nil, &crawler.ConfigError{Field: "output.path", Msg: err.Error()}
	}
	return &JSONL{path: path, f: f}, nil
}

// Path returns the output file path.
func (s *JSONL) Path() string {
	return s.path
}

// WriteArtist implements crawler.RecordSink.
func (s *JSONL) WriteArtist(_ context.Context, rec crawler.ArtistRecord) error {
	rec.RecordType = crawler.RecordArtist
	return s.writeLine(rec)
}

// WriteAlbum implements crawler.RecordSink.
func (s *JSONL) WriteAlbum(_ context.Context, rec crawler.AlbumRecord) error {
	rec.RecordType = crawler.RecordAlbum
	return s.writeLine(rec)
}

// Close flushes and closes the file.
func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	if err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

func (s *JSONL) writeLine(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("output is closed")
	}
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync output: %w", err)
	}
	return nil
}

func repairTrailingNewline(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read output tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("repair output tail: %w", err)
	}
	return nil
}
