package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/musicrpc/musicrpc/internal/song"
)

func TestITunesEnrich(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		if r.URL.Query().Get("entity") != "song" {
			t.Errorf("entity = %q", r.URL.Query().Get("entity"))
		}
		_, _ = w.Write([]byte(`{"resultCount":1,"results":[{"artworkUrl100":"https://is1.mzstatic.com/a/100x100bb.jpg","trackViewUrl":"https://music.apple.com/t/1","collectionName":"Album A"}]}`))
	}))
	defer srv.Close()

	it := NewITunes(time.Second)
	it.BaseURL = srv.URL
	art, err := it.Enrich(context.Background(), song.New("Song A", "Artist X", "", "Apple Music"))
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if art.CoverURL != "https://is1.mzstatic.com/a/600x600bb.jpg" {
		t.Errorf("CoverURL = %q", art.CoverURL)
	}
	if art.Link != "https://music.apple.com/t/1" || art.Album != "Album A" {
		t.Errorf("unexpected artwork %+v", art)
	}
	if query == "" {
		t.Error("no query sent")
	}
}

func TestITunesNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"resultCount":0,"results":[]}`))
	}))
	defer srv.Close()

	it := NewITunes(time.Second)
	it.BaseURL = srv.URL
	if _, err := it.Enrich(context.Background(), song.New("Song A", "Artist X", "", "Apple Music")); !errors.Is(err, ErrNoMatch) {
		t.Errorf("Enrich() error = %v, want ErrNoMatch", err)
	}
}
