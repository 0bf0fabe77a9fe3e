package detect

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/musicrpc/musicrpc/internal/song"
)

func songPtr(title, artist, player string) *song.Info {
	info := song.New(title, artist, "", player, song.WithPlaying(true))
	return &info
}

func newTestRegistry(t *testing.T, clock clockwork.Clock) (*Registry, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewRegistry(RegistryOptions{Logger: logger, Clock: clock, RunningTTL: 5 * time.Second}), &buf
}

func TestRegistryPriorityOrder(t *testing.T) {
	reg, _ := newTestRegistry(t, clockwork.NewFakeClock())
	spotify := &fakeDetector{desc: Descriptor{Name: "Spotify", Priority: 90}, running: true, song: songPtr("S", "A", "Spotify")}
	deezer := &fakeDetector{desc: Descriptor{Name: "Deezer", Priority: 10}, running: true, song: songPtr("D", "A", "Deezer")}
	tidal := &fakeDetector{desc: Descriptor{Name: "TIDAL", Priority: 20}}
	reg.Register(spotify)
	reg.Register(deezer)
	reg.Register(tidal)

	if got := strings.Join(reg.Names(), ","); got != "Deezer,TIDAL,Spotify" {
		t.Errorf("Names() = %q", got)
	}
	res := reg.Poll(context.Background())
	if res.Detector != "Deezer" || res.Song == nil || res.Song.Title != "D" {
		t.Errorf("Poll() = %+v, want Deezer", res)
	}
	if d, ok := reg.Lookup("tidal"); !ok || d != tidal {
		t.Errorf("Lookup(tidal) = %v, %v", d, ok)
	}
}

func TestRegistryAllowList(t *testing.T) {
	reg, _ := newTestRegistry(t, clockwork.NewFakeClock())
	deezer := &fakeDetector{desc: Descriptor{Name: "Deezer", Priority: 10}, running: true, song: songPtr("D", "A", "Deezer")}
	spotify := &fakeDetector{desc: Descriptor{Name: "Spotify", Priority: 90}}
	reg.Register(deezer)
	reg.Register(spotify)

	reg.SetAllowed([]string{"spotify"})
	if res := reg.Poll(context.Background()); res.Song != nil || res.Detector != "" {
		t.Errorf("Poll() = %+v, want nothing when the running player is not allowed", res)
	}
	if deezer.probes != 0 {
		t.Errorf("disallowed detector probed %d times", deezer.probes)
	}
	if _, _, ok := reg.SelectActive(context.Background()); ok {
		t.Error("SelectActive() found a detector")
	}

	reg.SetAllowed(nil)
	if !reg.Allowed("Deezer") {
		t.Error("nil allow-list should allow everything")
	}
	reg.SetAllowed([]string{})
	if reg.Allowed("Deezer") {
		t.Error("empty allow-list should allow nothing")
	}
}

func TestRegistryLookupAliases(t *testing.T) {
	reg, _ := newTestRegistry(t, clockwork.NewFakeClock())
	apple := &fakeDetector{desc: Descriptor{Name: AppleMusic, Priority: 80}}
	deezer := &fakeDetector{desc: Descriptor{Name: Deezer, Priority: 10}}
	reg.Register(apple)
	reg.Register(deezer)

	tests := []struct {
		name string
		want Detector
	}{
		{"Apple Music", apple},
		{"itunes", apple},
		{"music.app", apple},
		{"Music", apple},
		{" deezer ", deezer},
	}
	for _, tt := range tests {
		if d, ok := reg.Lookup(tt.name); !ok || d != tt.want {
			t.Errorf("Lookup(%q) = %v, %v", tt.name, d, ok)
		}
	}
	if _, ok := reg.Lookup("winamp"); ok {
		t.Error("Lookup(winamp) found a detector")
	}

	reg.SetAllowed([]string{"itunes"})
	if !reg.Allowed(AppleMusic) || reg.Allowed(Deezer) {
		t.Error("allow-list should resolve aliases")
	}
}

func TestRegistryErroringWhilePolling(t *testing.T) {
	reg, _ := newTestRegistry(t, clockwork.NewFakeClock())
	reg.Register(&fakeDetector{desc: Descriptor{Name: "Deezer", Priority: 10}, runningErr: errors.New("pgrep exploded")})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			reg.Poll(context.Background())
		}
	}()
	for i := 0; i < 200; i++ {
		reg.Erroring("Deezer")
	}
	<-done
	if !reg.Erroring("Deezer") {
		t.Error("Deezer should be marked failing")
	}
}

func TestRegistryCachesPositiveRunning(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg, _ := newTestRegistry(t, clock)
	deezer := &fakeDetector{desc: Descriptor{Name: "Deezer", Priority: 10}, running: true}
	reg.Register(deezer)
	ctx := context.Background()

	if _, reason, ok := reg.SelectActive(ctx); !ok || reason != "probe" {
		t.Fatalf("first SelectActive() = %q, %v", reason, ok)
	}
	if _, reason, ok := reg.SelectActive(ctx); !ok || reason != "cached" {
		t.Errorf("second SelectActive() = %q, %v, want cached", reason, ok)
	}
	if deezer.probes != 1 {
		t.Errorf("probes = %d, want 1", deezer.probes)
	}

	clock.Advance(6 * time.Second)
	deezer.running = false
	if _, _, ok := reg.SelectActive(ctx); ok {
		t.Error("expired cache should re-probe and see the player closed")
	}
	if _, _, ok := reg.SelectActive(ctx); ok {
		t.Error("negative answers must not be cached as positive")
	}
	if deezer.probes != 3 {
		t.Errorf("probes = %d, want 3", deezer.probes)
	}

	deezer.running = true
	if _, reason, ok := reg.SelectActive(ctx); !ok || reason != "probe" {
		t.Errorf("player start not seen immediately: %q, %v", reason, ok)
	}
}

func TestRegistryErrorFallsThrough(t *testing.T) {
	reg, logs := newTestRegistry(t, clockwork.NewFakeClock())
	broken := &fakeDetector{desc: Descriptor{Name: "Deezer", Priority: 10}, runningErr: errors.New("pgrep exploded")}
	spotify := &fakeDetector{desc: Descriptor{Name: "Spotify", Priority: 90}, running: true, song: songPtr("Song B", "Artist Y", "Spotify")}
	reg.Register(broken)
	reg.Register(spotify)

	for i := 0; i < 3; i++ {
		res := reg.Poll(context.Background())
		if res.Detector != "Spotify" {
			t.Fatalf("Poll() = %+v, want Spotify", res)
		}
	}
	if !reg.Erroring("Deezer") {
		t.Error("Deezer should be marked failing")
	}
	if n := strings.Count(logs.String(), "detector failing"); n != 1 {
		t.Errorf("failure logged %d times, want 1", n)
	}

	broken.runningErr = nil
	reg.Poll(context.Background())
	if reg.Erroring("Deezer") {
		t.Error("Deezer should have recovered")
	}
	if !strings.Contains(logs.String(), "detector recovered") {
		t.Error("recovery not logged")
	}
}

func TestRegistrySongErrorForgetsCache(t *testing.T) {
	reg, _ := newTestRegistry(t, clockwork.NewFakeClock())
	deezer := &fakeDetector{desc: Descriptor{Name: "Deezer", Priority: 10}, running: true, songErr: ErrTimeout}
	reg.Register(deezer)

	if res := reg.Poll(context.Background()); res.Song != nil || res.Detector != "" {
		t.Errorf("Poll() = %+v, want nothing", res)
	}
	reg.Poll(context.Background())
	if deezer.probes != 2 {
		t.Errorf("probes = %d, want the cache dropped after a read error", deezer.probes)
	}
}

func TestRegistryRunningWithoutSong(t *testing.T) {
	reg, _ := newTestRegistry(t, clockwork.NewFakeClock())
	reg.Register(&fakeDetector{desc: Descriptor{Name: "TIDAL", Priority: 20}, running: true})

	res := reg.Poll(context.Background())
	if res.Detector != "TIDAL" || res.Song != nil {
		t.Errorf("Poll() = %+v, want TIDAL with no song", res)
	}
}
