package presence

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/musicrpc/musicrpc/internal/song"
)

func playing(title, artist, player string) *song.Info {
	info := song.New(title, artist, "", player,
		song.WithPlaying(true), song.WithElapsed(10*time.Second), song.WithDuration(200*time.Second))
	return &info
}

func newTestSession(t *testing.T, dial func(context.Context) (net.Conn, error), clock clockwork.Clock) (*Session, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	s := New(Options{
		ApplicationID: "1352843252067209368",
		Logger:        slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Dial:          dial,
		Clock:         clock,
		ReplyTimeout:  time.Second,
	})
	return s, &logs
}

func TestSessionConnectUpdateClear(t *testing.T) {
	srv := newFakeDiscord(t)
	s, _ := newTestSession(t, srv.dial, clockwork.NewFakeClock())
	ctx := context.Background()

	if got := s.Step(ctx); got != Connected {
		t.Fatalf("Step() = %v, want connected", got)
	}
	if ev := srv.next(t); ev.Cmd != "HANDSHAKE" || ev.ClientID != "1352843252067209368" {
		t.Fatalf("handshake = %+v", ev)
	}

	if err := s.Update(ctx, playing("Song A", "Artist X", "Deezer")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	ev := srv.next(t)
	if ev.Cmd != "SET_ACTIVITY" || ev.Activity == nil {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Activity.Details != "Song A" || ev.Activity.State != "by Artist X" || ev.Activity.Type != 2 {
		t.Errorf("activity = %+v", ev.Activity)
	}

	// unchanged song: nothing sent
	if err := s.Update(ctx, playing("Song A", "Artist X", "Deezer")); err != nil {
		t.Fatal(err)
	}
	srv.none(t)

	if err := s.Update(ctx, nil); err != nil {
		t.Fatalf("Update(nil): %v", err)
	}
	if ev := srv.next(t); !ev.Clear {
		t.Errorf("expected clear, got %+v", ev)
	}
	// only once
	if err := s.Update(ctx, nil); err != nil {
		t.Fatal(err)
	}
	srv.none(t)

	stats := s.Stats()
	if stats.Connects != 1 || stats.Updates != 1 || stats.Clears != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestSessionSameSongStartDrift(t *testing.T) {
	srv := newFakeDiscord(t)
	clock := clockwork.NewFakeClock()
	s, _ := newTestSession(t, srv.dial, clock)
	ctx := context.Background()
	s.Step(ctx)
	srv.next(t)

	at := func(elapsed time.Duration) *song.Info {
		info := song.New("Song A", "Artist X", "", "Deezer",
			song.WithPlaying(true), song.WithElapsed(elapsed), song.WithDuration(200*time.Second))
		return &info
	}

	_ = s.Update(ctx, at(10*time.Second))
	srv.next(t)

	// ten seconds of steady playback, reported a little late
	clock.Advance(10 * time.Second)
	if err := s.Update(ctx, at(18500*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	srv.none(t)

	// seek back: the start moves by more than two seconds
	clock.Advance(10 * time.Second)
	if err := s.Update(ctx, at(5*time.Second)); err != nil {
		t.Fatal(err)
	}
	if ev := srv.next(t); ev.Activity == nil || ev.Activity.Details != "Song A" {
		t.Errorf("seek should resend the activity, got %+v", ev)
	}
	if got := s.Stats().Updates; got != 2 {
		t.Errorf("Updates = %d, want 2", got)
	}
}

func TestSessionPausedClears(t *testing.T) {
	srv := newFakeDiscord(t)
	s, _ := newTestSession(t, srv.dial, clockwork.NewFakeClock())
	ctx := context.Background()
	s.Step(ctx)
	srv.next(t)

	_ = s.Update(ctx, playing("Song A", "Artist X", "Deezer"))
	srv.next(t)

	paused := song.New("Song A", "Artist X", "", "Deezer", song.WithPlaying(false))
	if err := s.Update(ctx, &paused); err != nil {
		t.Fatal(err)
	}
	if ev := srv.next(t); !ev.Clear {
		t.Errorf("paused song should clear, got %+v", ev)
	}
}

func TestSessionUpdateDroppedWhenNotConnected(t *testing.T) {
	var dials atomic.Int32
	dial := func(context.Context) (net.Conn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}
	s, _ := newTestSession(t, dial, clockwork.NewFakeClock())

	if err := s.Update(context.Background(), playing("Song A", "Artist X", "Deezer")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Update() error = %v, want ErrNotConnected", err)
	}
	if dials.Load() != 0 {
		t.Error("Update must not dial")
	}
}

func TestSessionBackoffSchedule(t *testing.T) {
	var dials atomic.Int32
	dial := func(context.Context) (net.Conn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}
	clock := clockwork.NewFakeClock()
	s, logs := newTestSession(t, dial, clock)
	ctx := context.Background()

	want := []time.Duration{2, 4, 8, 16, 32, 60, 60}
	for i, w := range want {
		if got := s.Step(ctx); got != Backoff {
			t.Fatalf("attempt %d: state %v", i, got)
		}
		if d := s.Delay(); d != w*time.Second {
			t.Fatalf("attempt %d: delay %v, want %v", i, d, w*time.Second)
		}
		// not yet due
		s.Step(ctx)
		if int(dials.Load()) != i+1 {
			t.Fatalf("attempt %d: dialed %d times", i, dials.Load())
		}
		clock.Advance(s.Delay())
	}
	if n := strings.Count(logs.String(), "discord unavailable"); n != 1 {
		t.Errorf("warned %d times, want once per streak", n)
	}
}

func TestSessionRecoversAfterBackoff(t *testing.T) {
	srv := newFakeDiscord(t)
	var fail atomic.Bool
	fail.Store(true)
	dial := func(ctx context.Context) (net.Conn, error) {
		if fail.Load() {
			return nil, errors.New("not running")
		}
		return srv.dial(ctx)
	}
	clock := clockwork.NewFakeClock()
	s, _ := newTestSession(t, dial, clock)
	ctx := context.Background()

	s.Step(ctx)
	s.Step(ctx)
	fail.Store(false)
	clock.Advance(s.Delay())
	if got := s.Step(ctx); got != Connected {
		t.Fatalf("Step() = %v", got)
	}
	srv.next(t)
	if s.Delay() != 0 {
		t.Error("Delay() should be zero when connected")
	}
}

func TestSessionPeerCloseBacksOff(t *testing.T) {
	srv := newFakeDiscord(t)
	clock := clockwork.NewFakeClock()
	s, _ := newTestSession(t, srv.dial, clock)
	ctx := context.Background()

	s.Step(ctx)
	srv.next(t)
	clock.Advance(40 * time.Second)
	srv.dropAll()

	err := s.Update(ctx, playing("Song A", "Artist X", "Deezer"))
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Update() error = %v", err)
	}
	if s.State() != Backoff {
		t.Fatalf("State() = %v", s.State())
	}
	// stable connection: delay restarts from the minimum
	if s.Delay() != 2*time.Second {
		t.Errorf("Delay() = %v, want 2s", s.Delay())
	}
}

func TestSessionRejectedClientID(t *testing.T) {
	srv := newFakeDiscord(t)
	srv.rejectClient("1352843252067209368")
	s, logs := newTestSession(t, srv.dial, clockwork.NewFakeClock())

	if got := s.Step(context.Background()); got != Backoff {
		t.Fatalf("Step() = %v", got)
	}
	if !strings.Contains(s.Stats().LastError, "Invalid Client ID") {
		t.Errorf("LastError = %q", s.Stats().LastError)
	}
	if !strings.Contains(logs.String(), "discord unavailable") {
		t.Error("failure not logged")
	}
}

func TestSessionSetApplicationIDReconnects(t *testing.T) {
	srv := newFakeDiscord(t)
	s, _ := newTestSession(t, srv.dial, clockwork.NewFakeClock())
	ctx := context.Background()

	s.Step(ctx)
	srv.next(t)
	_ = s.Update(ctx, playing("Song A", "Artist X", "Deezer"))
	srv.next(t)

	s.SetApplicationID(ctx, "1352842418327912529")
	if ev := srv.next(t); !ev.Clear || ev.ClientID != "1352843252067209368" {
		t.Errorf("old application not cleared: %+v", ev)
	}
	if ev := srv.next(t); ev.Cmd != "HANDSHAKE" || ev.ClientID != "1352842418327912529" {
		t.Errorf("no reconnect with new id: %+v", ev)
	}
	if s.State() != Connected || s.ApplicationID() != "1352842418327912529" {
		t.Errorf("state %v, id %q", s.State(), s.ApplicationID())
	}

	// same id is a no-op
	s.SetApplicationID(ctx, "1352842418327912529")
	srv.none(t)
	// empty falls back to the default
	s.SetApplicationID(ctx, "")
	if ev := srv.next(t); ev.Cmd != "HANDSHAKE" || ev.ClientID != "1352843252067209368" {
		t.Errorf("expected default id, got %+v", ev)
	}
}

func TestSessionDisableEnable(t *testing.T) {
	srv := newFakeDiscord(t)
	s, _ := newTestSession(t, srv.dial, clockwork.NewFakeClock())
	ctx := context.Background()

	s.Step(ctx)
	srv.next(t)
	_ = s.Update(ctx, playing("Song A", "Artist X", "Deezer"))
	srv.next(t)

	s.Disable(ctx)
	if ev := srv.next(t); !ev.Clear {
		t.Errorf("disable should clear first, got %+v", ev)
	}
	if got := s.Step(ctx); got != Disconnected {
		t.Errorf("Step() while disabled = %v", got)
	}
	srv.none(t)

	s.Enable()
	if got := s.Step(ctx); got != Connected {
		t.Errorf("Step() after enable = %v", got)
	}
}

func TestSessionClose(t *testing.T) {
	srv := newFakeDiscord(t)
	s, _ := newTestSession(t, srv.dial, clockwork.NewFakeClock())
	ctx := context.Background()

	s.Step(ctx)
	srv.next(t)
	_ = s.Update(ctx, playing("Song A", "Artist X", "Deezer"))
	srv.next(t)

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.Close(closeCtx); err != nil {
		t.Fatal(err)
	}
	if ev := srv.next(t); !ev.Clear {
		t.Errorf("close should clear, got %+v", ev)
	}
	if err := s.Update(ctx, playing("Song B", "Artist Y", "Deezer")); !errors.Is(err, ErrClosed) {
		t.Errorf("Update() after close = %v", err)
	}
	if s.Step(ctx) != Disconnected {
		t.Error("closed session must stay disconnected")
	}
}

func TestStateString(t *testing.T) {
	for st, want := range map[State]string{Disconnected: "disconnected", Connecting: "connecting", Connected: "connected", Backoff: "backoff"} {
		if st.String() != want {
			t.Errorf("%d.String() = %q", st, st.String())
		}
	}
}
