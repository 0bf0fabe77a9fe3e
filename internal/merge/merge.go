// Package merge decides, for each poll, whether the observed song is new and
// what should be shown for it.
package merge

import (
	"context"
	"log/slog"
	"time"

	"github.com/musicrpc/musicrpc/internal/enrich"
	"github.com/musicrpc/musicrpc/internal/song"
)

// Config tunes the merger.
type Config struct {
	// UseAlbumArt shows the looked-up cover; when false the generic large
	// image is kept and only the artist image and link are used.
	UseAlbumArt bool
	// Timeout bounds one enrichment lookup. Zero means the caller's context.
	Timeout time.Duration
}

// Outcome is the merger's verdict for one poll.
type Outcome struct {
	Song    *song.Info
	Changed bool
	// Emit is false only while nothing has been playing for more than one
	// cycle.
	Emit bool
}

// Merger compares each reading with the previous one and enriches new songs.
type Merger struct {
	enricher enrich.Enricher
	cfg      Config
	logger   *slog.Logger
}

// New returns a Merger. enricher may be nil to disable lookups.
func New(enricher enrich.Enricher, cfg Config, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{enricher: enricher, cfg: cfg, logger: logger}
}

// Merge compares raw, this cycle's reading, with previous, the last emitted
// song.
func (m *Merger) Merge(ctx context.Context, raw, previous *song.Info) Outcome {
	switch {
	case raw == nil && previous == nil:
		return Outcome{}
	case raw == nil:
		return Outcome{Changed: true, Emit: true}
	case previous != nil && raw.Equivalent(*previous):
		carried := raw.WithEnrichment(previous.ArtworkURL, previous.ArtistImageURL, previous.URL)
		if carried.AlbumHint == "" {
			carried = carried.WithAlbumHint(previous.AlbumHint)
		}
		return Outcome{Song: &carried, Emit: true}
	}

	enriched := m.enrich(ctx, *raw)
	return Outcome{Song: &enriched, Changed: true, Emit: true}
}

func (m *Merger) enrich(ctx context.Context, info song.Info) song.Info {
	if m.enricher == nil || info.IsPlaceholder() {
		return info
	}
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}
	art, err := m.enricher.Enrich(ctx, info)
	switch {
	case enrich.IsPartial(err):
		m.logger.Debug("enrichment incomplete", slog.String("song", info.String()), slog.Any("err", err))
	case err != nil:
		m.logger.Debug("enrichment failed", slog.String("song", info.String()), slog.Any("err", err))
		return info
	}
	cover := art.CoverURL
	if !m.cfg.UseAlbumArt {
		cover = ""
	}
	// the player's own artwork is preferred when it has one
	if info.ArtworkURL != "" {
		cover = ""
	}
	out := info.WithEnrichment(cover, art.ArtistImageURL, art.Link)
	if out.Album == "" && art.Album != "" {
		out = out.WithAlbumHint(art.Album)
	}
	return out
}
