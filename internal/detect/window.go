package detect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/musicrpc/musicrpc/internal/song"
)

// WindowLister returns the titles of the top-level windows owned by a process.
type WindowLister interface {
	Titles(ctx context.Context, process string) ([]string, error)
}

// NewWindowLister picks the window enumeration available on goos.
func NewWindowLister(runner Runner, goos string) WindowLister {
	switch goos {
	case "darwin":
		return &osascriptWindows{runner: runner}
	case "windows":
		return &tasklistWindows{runner: runner}
	default:
		return &wmctrlWindows{runner: runner}
	}
}

type osascriptWindows struct{ runner Runner }

const windowScript = `tell application "System Events"
	if not (exists process %q) then return ""
	set out to ""
	repeat with w in windows of process %q
		set out to out & (name of w) & linefeed
	end repeat
	return out
end tell`

func (o *osascriptWindows) Titles(ctx context.Context, process string) ([]string, error) {
	out, err := o.runner.Run(ctx, "osascript", "-e", fmt.Sprintf(windowScript, process, process))
	if err != nil {
		return nil, err
	}
	return splitLines(string(out)), nil
}

type wmctrlWindows struct{ runner Runner }

// Titles parses `wmctrl -lx`: id, desktop, WM_CLASS, host, then the title.
func (w *wmctrlWindows) Titles(ctx context.Context, process string) ([]string, error) {
	out, err := w.runner.Run(ctx, "wmctrl", "-lx")
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(process)
	var titles []string
	for _, line := range splitLines(string(out)) {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		if !strings.Contains(strings.ToLower(fields[2]), want) {
			continue
		}
		// rejoin after the first four columns to keep inner spacing
		rest := line
		for i := 0; i < 4; i++ {
			rest = strings.TrimLeft(rest, " \t")
			if j := strings.IndexAny(rest, " \t"); j >= 0 {
				rest = rest[j:]
			}
		}
		titles = append(titles, strings.TrimSpace(rest))
	}
	return titles, nil
}

type tasklistWindows struct{ runner Runner }

func (t *tasklistWindows) Titles(ctx context.Context, process string) ([]string, error) {
	image := process
	if !strings.HasSuffix(strings.ToLower(image), ".exe") {
		image += ".exe"
	}
	out, err := t.runner.Run(ctx, "tasklist", "/v", "/fo", "csv", "/nh", "/fi", "IMAGENAME eq "+image)
	if err != nil {
		return nil, err
	}
	rows, err := parseTasklist(out)
	if err != nil {
		return nil, err
	}
	var titles []string
	for _, row := range rows {
		if len(row) < 9 {
			continue
		}
		title := strings.TrimSpace(row[len(row)-1])
		if title == "" || title == "N/A" {
			continue
		}
		titles = append(titles, title)
	}
	return titles, nil
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// WindowTitle reads the track from a player's window title.
type WindowTitle struct {
	Player    string
	Processes []string
	Lister    WindowLister
	Parse     TitleParser
	Logger    *slog.Logger
}

func (w *WindowTitle) Name() string { return "window-title" }

func (w *WindowTitle) Read(ctx context.Context) (*song.Info, error) {
	for _, process := range w.Processes {
		titles, err := w.Lister.Titles(ctx, process)
		if err != nil {
			return nil, err
		}
		for _, t := range titles {
			title, artist, ok := w.Parse(t)
			if !ok {
				w.logger().Debug("window title not parsed", slog.String("player", w.Player), slog.String("title", t))
				continue
			}
			info := song.New(title, artist, "", w.Player, song.WithPlaying(true))
			return &info, nil
		}
	}
	return nil, ErrNoData
}

func (w *WindowTitle) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}

// windowProbe treats a parseable window as proof the player is running. Used
// for web players that have no process of their own.
type windowProbe struct{ w *WindowTitle }

func (p windowProbe) Running(ctx context.Context) (bool, error) {
	info, err := p.w.Read(ctx)
	return info != nil, err
}
