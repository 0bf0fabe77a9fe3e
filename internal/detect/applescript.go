package detect

import (
	"context"
	"strings"

	"github.com/musicrpc/musicrpc/internal/song"
)

// musicScript prints one field per line so titles containing commas survive.
const musicScript = `if application "Music" is not running then return ""
tell application "Music"
	if player state is stopped then return ""
	set isPlaying to (player state is playing)
	set t to current track
	return (name of t) & linefeed & (artist of t) & linefeed & (album of t) & linefeed & (player position as string) & linefeed & ((duration of t) as string) & linefeed & (isPlaying as string)
end tell`

// AppleScript queries the macOS Music app directly.
type AppleScript struct {
	Player string
	Runner Runner
}

func (a *AppleScript) Name() string { return "applescript" }

func (a *AppleScript) Read(ctx context.Context) (*song.Info, error) {
	out, err := a.Runner.Run(ctx, "osascript", "-e", musicScript)
	if err != nil {
		return nil, err
	}
	info := parseMusicScript(string(out), a.Player)
	if info == nil {
		return nil, ErrNoData
	}
	return info, nil
}

func parseMusicScript(out, player string) *song.Info {
	lines := strings.Split(strings.TrimRight(out, "\r\n"), "\n")
	if len(lines) < 6 {
		return nil
	}
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	if lines[0] == "" {
		return nil
	}
	// AppleScript formats reals with the user's locale decimal separator
	number := func(s string) string { return strings.Replace(s, ",", ".", 1) }
	info := song.New(lines[0], lines[1], lines[2], player,
		song.WithElapsed(parseSeconds(number(lines[3]))),
		song.WithDuration(parseSeconds(number(lines[4]))),
		song.WithPlaying(strings.EqualFold(lines[5], "true")),
	)
	return &info
}
