package detect

import (
	"context"
	"fmt"
	"testing"
)

func TestWmctrlTitles(t *testing.T) {
	runner := newFakeRunner()
	runner.set("wmctrl -lx", "0x03a00003  0 deezer-desktop.Deezer  host Song  -  Artist - Deezer\n"+
		"0x04000001  0 gnome-terminal-server.Gnome-terminal  host ~/code\n")

	lister := NewWindowLister(runner, "linux")
	titles, err := lister.Titles(context.Background(), "deezer")
	if err != nil {
		t.Fatalf("Titles: %v", err)
	}
	if len(titles) != 1 || titles[0] != "Song  -  Artist - Deezer" {
		t.Errorf("unexpected titles %q", titles)
	}
}

func TestTasklistTitles(t *testing.T) {
	runner := newFakeRunner()
	runner.set(`tasklist /v /fo csv /nh /fi IMAGENAME eq Spotify.exe`,
		`"Spotify.exe","100","Console","1","90,000 K","Running","PC\user","0:00:10","Artist Y – Song B"`+"\r\n"+
			`"Spotify.exe","101","Console","1","40,000 K","Running","PC\user","0:00:01","N/A"`+"\r\n")

	lister := NewWindowLister(runner, "windows")
	titles, err := lister.Titles(context.Background(), "Spotify")
	if err != nil {
		t.Fatalf("Titles: %v", err)
	}
	if len(titles) != 1 || titles[0] != "Artist Y – Song B" {
		t.Errorf("unexpected titles %q", titles)
	}
}

func TestOsascriptTitles(t *testing.T) {
	runner := newFakeRunner()
	runner.set("osascript -e "+fmt.Sprintf(windowScript, "TIDAL", "TIDAL"), "Song C - Artist Z\n\n")

	lister := NewWindowLister(runner, "darwin")
	titles, err := lister.Titles(context.Background(), "TIDAL")
	if err != nil {
		t.Fatalf("Titles: %v", err)
	}
	if len(titles) != 1 || titles[0] != "Song C - Artist Z" {
		t.Errorf("unexpected titles %q", titles)
	}
}

type staticLister map[string][]string

func (s staticLister) Titles(_ context.Context, process string) ([]string, error) {
	return s[process], nil
}

func TestWindowTitleStrategy(t *testing.T) {
	w := &WindowTitle{
		Player:    "Spotify",
		Processes: []string{"Spotify"},
		Lister:    staticLister{"Spotify": {"Spotify Premium", "Artist Y – Song B"}},
		Parse:     ParseSpotifyTitle,
	}
	info, err := w.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if info == nil {
		t.Fatal("expected a song")
	}
	if info.Title != "Song B" || info.Artist != "Artist Y" {
		t.Errorf("got %q by %q", info.Title, info.Artist)
	}
	if !info.Playing || info.Player != "Spotify" {
		t.Errorf("unexpected flags %+v", info)
	}

	idle := &WindowTitle{Player: "Spotify", Processes: []string{"Spotify"}, Lister: staticLister{"Spotify": {"Spotify"}}, Parse: ParseSpotifyTitle}
	if info, err := idle.Read(context.Background()); !IsNoData(err) || info != nil {
		t.Errorf("idle window should yield nothing, got %+v, %v", info, err)
	}
}
