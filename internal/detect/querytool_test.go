package detect

import (
	"context"
	"testing"
	"time"
)

const rawPlaying = `{
    kMRMediaRemoteNowPlayingInfoAlbum = "Album Q";
    kMRMediaRemoteNowPlayingInfoArtist = "Artist X";
    kMRMediaRemoteNowPlayingInfoDuration = 200;
    kMRMediaRemoteNowPlayingInfoElapsedTime = "10";
    kMRMediaRemoteNowPlayingInfoPlaybackRate = 1;
    kMRMediaRemoteNowPlayingInfoTitle = "Song A";
    kMRMediaRemoteNowPlayingInfoArtworkData = {
        length = 1024;
    };
    kMRMediaRemoteNowPlayingApplicationDisplayID = "com.deezer.Deezer";
}`

func TestQueryToolReadsRawOutput(t *testing.T) {
	runner := newFakeRunner()
	runner.set("nowplaying-cli get-raw", rawPlaying)

	q := &QueryTool{Player: "Deezer", BundleIDs: []string{"com.deezer.Deezer"}, Runner: runner}
	info, err := q.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if info == nil {
		t.Fatal("expected a song")
	}
	if info.Title != "Song A" || info.Artist != "Artist X" || info.Album != "Album Q" {
		t.Errorf("unexpected text fields: %+v", info)
	}
	if info.Elapsed != 10*time.Second || info.Duration != 200*time.Second {
		t.Errorf("unexpected timing: elapsed=%v duration=%v", info.Elapsed, info.Duration)
	}
	if !info.Playing {
		t.Error("expected playing")
	}
	if info.Player != "Deezer" {
		t.Errorf("expected player Deezer, got %q", info.Player)
	}
}

func TestQueryToolOtherBundleIgnored(t *testing.T) {
	runner := newFakeRunner()
	runner.set("nowplaying-cli get-raw", rawPlaying)

	q := &QueryTool{Player: "Spotify", BundleIDs: []string{"com.spotify.client"}, Runner: runner}
	info, err := q.Read(context.Background())
	if !IsNoData(err) {
		t.Fatalf("Read() error = %v, want ErrNoData", err)
	}
	if info != nil {
		t.Errorf("expected reading from another app to be dropped, got %+v", info)
	}
}

func TestQueryToolFallsBackToGet(t *testing.T) {
	runner := newFakeRunner()
	runner.set("nowplaying-cli get-raw", "{\n    kMRMediaRemoteNowPlayingInfoPlaybackRate = 0;\n    kMRMediaRemoteNowPlayingInfoElapsedTime = \"42.5\";\n}")
	runner.set("nowplaying-cli get title artist album", "Song B\nArtist Y\nnull\n")

	q := &QueryTool{Player: "TIDAL", Runner: runner}
	info, err := q.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if info == nil || info.Title != "Song B" || info.Artist != "Artist Y" || info.Album != "" {
		t.Fatalf("unexpected song: %+v", info)
	}
	if info.Playing {
		t.Error("rate 0 should not be playing")
	}
	if info.Elapsed != 42500*time.Millisecond {
		t.Errorf("expected 42.5s elapsed, got %v", info.Elapsed)
	}
}

func TestQueryToolNoData(t *testing.T) {
	tests := []struct {
		name  string
		setup  func(*fakeRunner)
		noData bool
	}{
		{"tool missing", func(r *fakeRunner) { r.fail("nowplaying-cli", ErrToolMissing) }, false},
		{"non-zero exit", func(r *fakeRunner) {}, false},
		{"empty output", func(r *fakeRunner) { r.set("nowplaying-cli get-raw", "") }, true},
		{"null title", func(r *fakeRunner) {
			r.set("nowplaying-cli get-raw", "{\n}")
			r.set("nowplaying-cli get title artist album", "null\nnull\nnull\n")
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newFakeRunner()
			tt.setup(runner)
			q := &QueryTool{Player: "Deezer", Runner: runner}
			info, err := q.Read(context.Background())
			if err == nil {
				t.Fatal("Read() returned no error")
			}
			if IsNoData(err) != tt.noData {
				t.Errorf("err = %v, want ErrNoData %v", err, tt.noData)
			}
			if info != nil {
				t.Errorf("expected no song, got %+v", info)
			}
		})
	}
}

func TestParseRawNowPlayingSkipsNested(t *testing.T) {
	raw := ParseRawNowPlaying(rawPlaying)
	if _, ok := raw["length"]; ok {
		t.Error("nested keys must be skipped")
	}
	if raw[rawTitle] != "Song A" {
		t.Errorf("expected title, got %q", raw[rawTitle])
	}
}

func TestParseMusicScript(t *testing.T) {
	info := parseMusicScript("Song, With Comma\nArtist\nAlbum\n12,5\n300.0\ntrue\n", "Apple Music")
	if info == nil {
		t.Fatal("expected song")
	}
	if info.Title != "Song, With Comma" {
		t.Errorf("unexpected title %q", info.Title)
	}
	if info.Elapsed != 12500*time.Millisecond || info.Duration != 300*time.Second {
		t.Errorf("unexpected timing %v / %v", info.Elapsed, info.Duration)
	}
	if !info.Playing {
		t.Error("expected playing")
	}
	if parseMusicScript("", "Apple Music") != nil {
		t.Error("empty output should yield nothing")
	}
}
