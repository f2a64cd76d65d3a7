package sink

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/discogs-crawler/internal/crawler"
	"github.com/JakeFAU/discogs-crawler/internal/metrics"
)

// Mirror is a named secondary sink.
type Mirror struct {
	Name string
	Sink crawler.RecordSink
}

// Tee writes to a primary sink and then to best-effort mirrors. Only primary
// failures are returned; mirror failures are logged and counted.
type Tee struct {
	primary crawler.RecordSink
	mirrors []Mirror
	logger  *zap.Logger
}

// NewTee builds a Tee. With no mirrors it behaves exactly like primary.
func NewTee(primary crawler.RecordSink, logger *zap.Logger, mirrors ...Mirror) *Tee {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tee{primary: primary, mirrors: mirrors, logger: logger.Named("sink")}
}

// WriteArtist implements crawler.RecordSink.
func (t *Tee) WriteArtist(ctx context.Context, rec crawler.ArtistRecord) error {
	if err := t.primary.WriteArtist(ctx, rec); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := m.Sink.WriteArtist(ctx, rec); err != nil {
			t.mirrorFailed(m.Name, zap.String("artist_id", rec.ArtistID), err)
		}
	}
	return nil
}

// WriteAlbum implements crawler.RecordSink.
func (t *Tee) WriteAlbum(ctx context.Context, rec crawler.AlbumRecord) error {
	if err := t.primary.WriteAlbum(ctx, rec); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := m.Sink.WriteAlbum(ctx, rec); err != nil {
			t.mirrorFailed(m.Name, zap.String("album_id", rec.AlbumID), err)
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (t *Tee) Close() error {
	var errs []error
	if err := t.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, m := range t.mirrors {
		if err := m.Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", m.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Tee) mirrorFailed(name string, id zap.Field, err error) {
	metrics.ObserveMirrorError(name)
	t.logger.Warn("mirror write failed", zap.String("sink", name), id, zap.Error(err))
}
