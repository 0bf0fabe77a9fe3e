package song

import (
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	info := New("", "  ", "", "Deezer")
	if info.Title != UnknownTitle {
		t.Errorf("expected title %q, got %q", UnknownTitle, info.Title)
	}
	if info.Artist != UnknownArtist {
		t.Errorf("expected artist %q, got %q", UnknownArtist, info.Artist)
	}
	if !info.IsPlaceholder() {
		t.Error("expected placeholder")
	}
}

func TestNewClampsElapsed(t *testing.T) {
	info := New("Song", "Artist", "", "Deezer",
		WithDuration(200*time.Second),
		WithElapsed(250*time.Second))
	if info.Elapsed != 200*time.Second {
		t.Errorf("expected elapsed clamped to 200s, got %v", info.Elapsed)
	}

	info = New("Song", "Artist", "", "Deezer", WithElapsed(-time.Second))
	if info.Elapsed != 0 {
		t.Errorf("expected negative elapsed reset to 0, got %v", info.Elapsed)
	}
}

func TestEquivalent(t *testing.T) {
	base := New("Song A", "Artist X", "Album", "Deezer",
		WithElapsed(10*time.Second), WithDuration(200*time.Second), WithPlaying(true))

	tests := []struct {
		name  string
		other Info
		want  bool
	}{
		{"elapsed only", New("Song A", "Artist X", "Album", "Deezer", WithElapsed(90*time.Second), WithDuration(200*time.Second), WithPlaying(true)), true},
		{"paused", New("Song A", "Artist X", "Album", "Deezer", WithElapsed(10*time.Second)), true},
		{"enriched", base.WithEnrichment("http://cover", "http://artist", ""), true},
		{"title", New("Song B", "Artist X", "Album", "Deezer"), false},
		{"artist", New("Song A", "Artist Y", "Album", "Deezer"), false},
		{"album", New("Song A", "Artist X", "Other", "Deezer"), false},
		{"player", New("Song A", "Artist X", "Album", "TIDAL"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.Equivalent(tt.other); got != tt.want {
				t.Errorf("Equivalent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEquivalentNil(t *testing.T) {
	a := New("Song", "Artist", "", "Deezer")
	if !Equivalent(nil, nil) {
		t.Error("nil and nil should be equivalent")
	}
	if Equivalent(&a, nil) || Equivalent(nil, &a) {
		t.Error("nil and non-nil should differ")
	}
	b := a
	if !Equivalent(&a, &b) {
		t.Error("copies should be equivalent")
	}
}

func TestWithEnrichmentKeepsExisting(t *testing.T) {
	info := New("Song", "Artist", "", "Deezer", WithArtwork("http://own", ""))
	got := info.WithEnrichment("", "http://artist", "http://link")
	if got.ArtworkURL != "http://own" {
		t.Errorf("expected existing artwork kept, got %q", got.ArtworkURL)
	}
	if got.ArtistImageURL != "http://artist" || got.URL != "http://link" {
		t.Errorf("unexpected enrichment: %+v", got)
	}
	if info.ArtistImageURL != "" {
		t.Error("original record must not change")
	}
}

func TestRemaining(t *testing.T) {
	info := New("Song", "Artist", "", "", WithDuration(3*time.Minute), WithElapsed(time.Minute))
	if info.Remaining() != 2*time.Minute {
		t.Errorf("expected 2m remaining, got %v", info.Remaining())
	}
	if New("Song", "Artist", "", "").Remaining() != 0 {
		t.Error("expected zero remaining without duration")
	}
}

func TestAlbumHint(t *testing.T) {
	info := New("Song", "Artist", "", "Deezer").WithAlbumHint(" Looked Up ")
	if info.DisplayAlbum() != "Looked Up" {
		t.Errorf("DisplayAlbum() = %q, want the hint", info.DisplayAlbum())
	}
	if !info.Equivalent(New("Song", "Artist", "", "Deezer")) {
		t.Error("a hint must not change identity")
	}
	if info.Equivalent(New("Song", "Artist", "Looked Up", "Deezer")) {
		t.Error("an empty album and a real one are different songs")
	}
	own := New("Song", "Artist", "Own", "Deezer").WithAlbumHint("Looked Up")
	if own.DisplayAlbum() != "Own" {
		t.Errorf("DisplayAlbum() = %q, want the player's album", own.DisplayAlbum())
	}
}
