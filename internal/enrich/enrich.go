// Package enrich looks up display metadata (cover art, artist image, track
// link) for a detected song.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/musicrpc/musicrpc/internal/song"
)

var (
	ErrNoMatch     = errors.New("enrich: no match")
	ErrRateLimited = errors.New("enrich: rate limited")
	// ErrPartial comes with a usable result that is missing what a failed
	// lookup might have added. Such results are not cached.
	ErrPartial = errors.New("enrich: partial result")
)

func IsNoMatch(err error) bool { return errors.Is(err, ErrNoMatch) }

func IsPartial(err error) bool { return errors.Is(err, ErrPartial) }

const userAgent = "MusicRPC/2.0"

// Artwork is the result of a lookup. Any field may be empty.
type Artwork struct {
	CoverURL       string `json:"cover_url,omitempty"`
	ArtistImageURL string `json:"artist_image_url,omitempty"`
	Link           string `json:"link,omitempty"`
	Album          string `json:"album,omitempty"`
}

func (a Artwork) IsZero() bool { return a == Artwork{} }

// merge fills empty fields of a from b.
func (a Artwork) merge(b Artwork) Artwork {
	if a.CoverURL == "" {
		a.CoverURL = b.CoverURL
	}
	if a.ArtistImageURL == "" {
		a.ArtistImageURL = b.ArtistImageURL
	}
	if a.Link == "" {
		a.Link = b.Link
	}
	if a.Album == "" {
		a.Album = b.Album
	}
	return a
}

// Enricher looks up artwork for a song. Implementations return ErrNoMatch
// when the service has nothing for it.
type Enricher interface {
	Enrich(ctx context.Context, info song.Info) (Artwork, error)
}

// Func adapts a function to Enricher.
type Func func(ctx context.Context, info song.Info) (Artwork, error)

func (f Func) Enrich(ctx context.Context, info song.Info) (Artwork, error) { return f(ctx, info) }

// Chain asks each enricher in turn. Earlier results win per field, an album
// found early is passed on to later lookups, and the walk stops at the first
// cover. A result gathered while another member failed is returned together
// with an ErrPartial error.
type Chain []Enricher

func (c Chain) Enrich(ctx context.Context, info song.Info) (Artwork, error) {
	var out Artwork
	var errs []error
	for _, e := range c {
		art, err := e.Enrich(ctx, info)
		if err != nil {
			if !IsNoMatch(err) {
				errs = append(errs, err)
			}
			continue
		}
		out = out.merge(art)
		if info.Album == "" && art.Album != "" {
			info = info.WithAlbum(art.Album)
		}
		if out.CoverURL != "" {
			break
		}
	}
	switch {
	case !out.IsZero() && len(errs) > 0:
		return out, fmt.Errorf("%w: %w", ErrPartial, errors.Join(errs...))
	case !out.IsZero():
		return out, nil
	case len(errs) > 0:
		return Artwork{}, errors.Join(errs...)
	}
	return Artwork{}, ErrNoMatch
}

// searchable reports whether a song carries enough to look up.
func searchable(info song.Info) bool {
	return !info.IsPlaceholder() && info.Title != song.UnknownTitle && info.Artist != song.UnknownArtist
}

func statusError(service string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", service, ErrRateLimited)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s error: %s", service, resp.Status)
	}
	return nil
}

// primaryArtist drops featured artists, which both services match poorly.
func primaryArtist(artist string) string {
	for _, sep := range []string{", ", " & ", " feat. ", " ft. "} {
		if i := strings.Index(artist, sep); i > 0 {
			artist = artist[:i]
		}
	}
	return strings.TrimSpace(artist)
}
