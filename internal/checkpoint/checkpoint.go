// Package checkpoint tracks which artist and album ids already reached the
// output so reruns never write a record twice.
package checkpoint

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
)

const maxLineBytes = 8 << 20

// Store is an in-memory set of persisted ids, one namespace per record type.
// It is owned by a single pipeline and not safe for concurrent use.
type Store struct {
	ids    map[crawler.RecordType]map[string]struct{}
	logger *zap.Logger
}

// New returns an empty Store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		ids: map[crawler.RecordType]map[string]struct{}{
			crawler.RecordArtist: {},
			crawler.RecordAlbum:  {},
		},
		logger: logger.Named("checkpoint"),
	}
}

// Contains reports whether id of kind was already persisted.
func (s *Store) Contains(kind crawler.RecordType, id string) bool {
	_, ok := s.ids[kind][id]
	return ok
}

// Mark records id of kind as persisted. Marking twice is a no-op.
func (s *Store) Mark(kind crawler.RecordType, id string) {
	set, ok := s.ids[kind]
	if !ok {
		set = make(map[string]struct{})
		s.ids[kind] = set
	}
	set[id] = struct{}{}
}

// Len returns the number of known ids of kind.
func (s *Store) Len(kind crawler.RecordType) int {
	return len(s.ids[kind])
}

type idLine struct {
	RecordType crawler.RecordType `json:"record_type"`
	ArtistID   string             `json:"artist_id"`
	AlbumID    string             `json:"album_id"`
}

// Load scans a prior JSONL stream once and marks every id it holds. Lines that
// do not decode, such as a final line cut short by a crash, are logged and
// skipped. It returns the number of ids marked.
func (s *Store) Load(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var marked, lineNo int
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line idLine
		if err := json.Unmarshal(raw, &line); err != nil {
			s.logger.Warn("skipping unreadable output line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		switch {
		case line.RecordType == crawler.RecordArtist && line.ArtistID != "":
			s.Mark(crawler.RecordArtist, line.ArtistID)
		case line.RecordType == crawler.RecordAlbum && line.AlbumID != "":
			s.Mark(crawler.RecordAlbum, line.AlbumID)
		default:
			s.logger.Warn("skipping output line without id", zap.Int("line", lineNo))
			continue
		}
		marked++
	}
	if err := scanner.Err(); err != nil {
		return marked, fmt.Errorf("scan output: %w", err)
	}
	return marked, nil
}

// LoadFile loads ids from the JSONL file at path. A missing file is an empty
// history, not an error.
func (s *Store) LoadFile(path string) (int, error) {
	f, err := os.Open(path) // #nosec G304 -- output path comes from validated config.
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open output: %w", err)
	}
	defer func() { _ = f.Close() }()

	n, err := s.Load(f)
	if err != nil {
		return n, err
	}
	s.logger.Info("checkpoint loaded",
		zap.String("path", path),
		zap.Int("artists", s.Len(crawler.RecordArtist)),
		zap.Int("albums", s.Len(crawler.RecordAlbum)))
	return n, nil
}
