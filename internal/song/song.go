// Package song holds the canonical "now playing" record shared by detectors,
// the merger and the presence session.
package song

import (
	"fmt"
	"strings"
	"time"
)

const (
	UnknownTitle  = "Unknown Song"
	UnknownArtist = "Unknown Artist"
)

// Info is an immutable now-playing observation. Construct it with New and
// derive modified copies with the With* helpers.
type Info struct {
	Title          string
	Artist         string
	Album          string
	Player         string
	Duration       time.Duration
	Elapsed        time.Duration
	Playing        bool
	ArtworkURL     string
	ArtistImageURL string
	URL            string
	Location       string
	// AlbumHint is an album found by enrichment. It is shown when Album is
	// empty and never takes part in Equivalent.
	AlbumHint string
}

type Option func(*Info)

func WithDuration(d time.Duration) Option { return func(i *Info) { i.Duration = d } }
func WithElapsed(d time.Duration) Option  { return func(i *Info) { i.Elapsed = d } }
func WithPlaying(p bool) Option           { return func(i *Info) { i.Playing = p } }
func WithLocation(loc string) Option      { return func(i *Info) { i.Location = loc } }

// WithArtwork sets the cover and artist image URLs, e.g. when the player
// itself exposes them.
func WithArtwork(cover, artistImage string) Option {
	return func(i *Info) {
		i.ArtworkURL = cover
		i.ArtistImageURL = artistImage
	}
}

// New builds an Info with cleaned text fields and placeholder defaults.
func New(title, artist, album, player string, opts ...Option) Info {
	info := Info{
		Title:  Clean(title),
		Artist: Clean(artist),
		Album:  Clean(album),
		Player: Clean(player),
	}
	for _, opt := range opts {
		opt(&info)
	}
	if info.Title == "" {
		info.Title = UnknownTitle
	}
	if info.Artist == "" {
		info.Artist = UnknownArtist
	}
	if info.Duration < 0 {
		info.Duration = 0
	}
	if info.Elapsed < 0 {
		info.Elapsed = 0
	}
	if info.Duration > 0 && info.Elapsed > info.Duration {
		info.Elapsed = info.Duration
	}
	info.ArtworkURL = strings.TrimSpace(info.ArtworkURL)
	info.ArtistImageURL = strings.TrimSpace(info.ArtistImageURL)
	return info
}

// Placeholder is the reading for a player that is open but whose track is
// unknown.
func Placeholder(player string) Info {
	return New(UnknownTitle, UnknownArtist, "", player, WithPlaying(true))
}

// IsPlaceholder reports whether the record carries no real track data.
func (i Info) IsPlaceholder() bool {
	return i.Title == UnknownTitle && i.Artist == UnknownArtist
}

// Equivalent reports whether two observations describe the same track on the
// same player. Position, playback state and enrichment never count.
func (i Info) Equivalent(other Info) bool {
	return i.Title == other.Title &&
		i.Artist == other.Artist &&
		i.Album == other.Album &&
		i.Player == other.Player
}

// Equivalent is the nil-aware form of Info.Equivalent.
func Equivalent(a, b *Info) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equivalent(*b)
}

// WithEnrichment returns a copy carrying looked-up display metadata. Empty
// arguments keep the existing values.
func (i Info) WithEnrichment(cover, artistImage, link string) Info {
	if cover != "" {
		i.ArtworkURL = cover
	}
	if artistImage != "" {
		i.ArtistImageURL = artistImage
	}
	if link != "" {
		i.URL = link
	}
	return i
}

// WithAlbum returns a copy with the album replaced.
func (i Info) WithAlbum(album string) Info {
	i.Album = Clean(album)
	return i
}

// WithAlbumHint returns a copy carrying a looked-up album for display.
func (i Info) WithAlbumHint(album string) Info {
	i.AlbumHint = Clean(album)
	return i
}

// DisplayAlbum is the album to show: the player's own, else the looked-up one.
func (i Info) DisplayAlbum() string {
	if i.Album != "" {
		return i.Album
	}
	return i.AlbumHint
}

// Remaining is the time left in the track, or zero when the duration is
// unknown.
func (i Info) Remaining() time.Duration {
	if i.Duration <= 0 {
		return 0
	}
	return i.Duration - i.Elapsed
}

func (i Info) String() string {
	return fmt.Sprintf("%s - %s", i.Title, i.Artist)
}
