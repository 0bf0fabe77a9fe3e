package detect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/musicrpc/musicrpc/internal/song"
)

const (
	mprisPrefix = "org.mpris.MediaPlayer2."
	mprisPath   = "/org/mpris/MediaPlayer2"
	mprisPlayer = "org.mpris.MediaPlayer2.Player"
)

// Bus is the slice of the D-Bus session bus MPRIS needs.
type Bus interface {
	ListNames(ctx context.Context) ([]string, error)
	Property(ctx context.Context, dest, iface, prop string) (dbus.Variant, error)
}

// MPRIS reads players that publish org.mpris.MediaPlayer2 on the session bus.
// It serves both as a Strategy and as a ProcessProbe.
type MPRIS struct {
	// Player is the name reported in readings. When empty the bus name's
	// identity is used, e.g. "vlc" for org.mpris.MediaPlayer2.vlc.
	Player string
	// Match selects bus names by substring; empty matches every player not
	// listed in Exclude.
	Match   []string
	Exclude []string
	Bus     Bus
}

func (m *MPRIS) Name() string { return "mpris" }

func (m *MPRIS) players(ctx context.Context) ([]string, error) {
	names, err := m.Bus.ListNames(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}
		ident := strings.ToLower(strings.TrimPrefix(name, mprisPrefix))
		if matchesAny(ident, m.Exclude) {
			continue
		}
		if len(m.Match) > 0 && !matchesAny(ident, m.Match) {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

func matchesAny(ident string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(ident, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

func (m *MPRIS) status(ctx context.Context, name string) string {
	v, err := m.Bus.Property(ctx, name, mprisPlayer, "PlaybackStatus")
	if err != nil {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

// Running reports whether a matching player is playing or paused.
func (m *MPRIS) Running(ctx context.Context) (bool, error) {
	names, err := m.players(ctx)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		switch m.status(ctx, name) {
		case "Playing", "Paused":
			return true, nil
		}
	}
	return false, nil
}

// Read prefers a playing player over a paused one.
func (m *MPRIS) Read(ctx context.Context) (*song.Info, error) {
	names, err := m.players(ctx)
	if err != nil {
		return nil, err
	}
	var paused *song.Info
	for _, name := range names {
		status := m.status(ctx, name)
		if status != "Playing" && status != "Paused" {
			continue
		}
		info, err := m.readPlayer(ctx, name, status == "Playing")
		if err != nil || info == nil {
			continue
		}
		if info.Playing {
			return info, nil
		}
		if paused == nil {
			paused = info
		}
	}
	if paused == nil {
		return nil, ErrNoData
	}
	return paused, nil
}

func (m *MPRIS) readPlayer(ctx context.Context, name string, playing bool) (*song.Info, error) {
	v, err := m.Bus.Property(ctx, name, mprisPlayer, "Metadata")
	if err != nil {
		return nil, err
	}
	meta, ok := v.Value().(map[string]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected metadata type %T", name, v.Value())
	}
	var elapsed time.Duration
	if pos, err := m.Bus.Property(ctx, name, mprisPlayer, "Position"); err == nil {
		elapsed = microseconds(pos)
	}
	player := m.Player
	if player == "" {
		player = identity(name)
	}
	return metadataSong(meta, player, playing, elapsed), nil
}

func metadataSong(meta map[string]dbus.Variant, player string, playing bool, elapsed time.Duration) *song.Info {
	title := variantString(meta, "xesam:title")
	if title == "" {
		return nil
	}
	var length time.Duration
	if v, ok := meta["mpris:length"]; ok {
		length = microseconds(v)
	}
	info := song.New(title, variantStrings(meta, "xesam:artist"), variantString(meta, "xesam:album"), player,
		song.WithPlaying(playing),
		song.WithDuration(length),
		song.WithElapsed(elapsed),
		song.WithLocation(variantString(meta, "xesam:url")),
	)
	if art := variantString(meta, "mpris:artUrl"); strings.HasPrefix(art, "http") {
		info = info.WithEnrichment(art, "", "")
	}
	return &info
}

func variantString(meta map[string]dbus.Variant, key string) string {
	v, ok := meta[key]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

func variantStrings(meta map[string]dbus.Variant, key string) string {
	v, ok := meta[key]
	if !ok {
		return ""
	}
	switch t := v.Value().(type) {
	case []string:
		return strings.Join(t, ", ")
	case string:
		return t
	}
	return ""
}

// microseconds converts the MPRIS int64/uint64 microsecond values.
func microseconds(v dbus.Variant) time.Duration {
	switch t := v.Value().(type) {
	case int64:
		return time.Duration(t) * time.Microsecond
	case uint64:
		return time.Duration(t) * time.Microsecond
	case int32:
		return time.Duration(t) * time.Microsecond
	case uint32:
		return time.Duration(t) * time.Microsecond
	}
	return 0
}

// identity turns "org.mpris.MediaPlayer2.vlc.instance123" into "vlc".
func identity(busName string) string {
	ident := strings.TrimPrefix(busName, mprisPrefix)
	if i := strings.Index(ident, "."); i > 0 {
		ident = ident[:i]
	}
	return ident
}
