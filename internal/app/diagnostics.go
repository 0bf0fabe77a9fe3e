package app

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/musicrpc/musicrpc/internal/presence"
	"github.com/musicrpc/musicrpc/internal/scheduler"
	"github.com/musicrpc/musicrpc/internal/song"
	"github.com/musicrpc/musicrpc/internal/ui"
)

// Diagnostics accumulates what the status screen shows about the loop.
type Diagnostics struct {
	StartTime    time.Time
	Ticks        uint64
	Errors       int
	Songs        int
	LastPoll     time.Time
	LastChange   time.Time
	LastSong     *song.Info
	MemoryUsage  uint64
	Goroutines   int
	PollInterval time.Duration
}

func NewDiagnostics(start time.Time) *Diagnostics {
	return &Diagnostics{StartTime: start}
}

// Observe folds one snapshot into the counters.
func (d *Diagnostics) Observe(snap scheduler.Snapshot) {
	d.Ticks = snap.Tick
	d.Errors = snap.Errors
	d.LastPoll = snap.At
	d.PollInterval = snap.Interval
	if snap.Changed {
		d.LastChange = snap.At
		if snap.Song != nil && !song.Equivalent(snap.Song, d.LastSong) {
			d.Songs++
		}
		d.LastSong = snap.Song
	}
}

func (d *Diagnostics) refresh() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	d.MemoryUsage = ms.Alloc
	d.Goroutines = runtime.NumGoroutine()
}

// Uptime is measured against now so tests can pin it.
func (d *Diagnostics) Uptime(now time.Time) time.Duration {
	return now.Sub(d.StartTime)
}

// Render draws the diagnostics panel. stats is nil when presence is off for
// the run; cacheLen is negative when enrichment is off.
func (d *Diagnostics) Render(theme ui.Theme, now time.Time, stats *presence.Stats, cacheLen int) string {
	d.refresh()

	var b strings.Builder
	b.WriteString(theme.Accent.Render("Diagnostics"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Uptime:   %s\n", d.Uptime(now).Round(time.Second))
	fmt.Fprintf(&b, "Ticks:    %s", humanize.Comma(int64(d.Ticks)))
	if d.PollInterval > 0 {
		fmt.Fprintf(&b, " every %s", d.PollInterval)
	}
	b.WriteString("\n")
	errs := fmt.Sprintf("Errors:   %d", d.Errors)
	if d.Errors > 0 {
		b.WriteString(theme.Warning.Render(errs))
	} else {
		b.WriteString(errs)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Songs:    %d\n", d.Songs)
	fmt.Fprintf(&b, "Polled:   %s\n", relative(d.LastPoll, now))
	fmt.Fprintf(&b, "Changed:  %s\n", relative(d.LastChange, now))

	if stats != nil {
		b.WriteString("\n")
		b.WriteString(theme.Accent.Render("Discord"))
		b.WriteString("\n")
		fmt.Fprintf(&b, "Connects: %d / failures %d\n", stats.Connects, stats.Failures)
		fmt.Fprintf(&b, "Updates:  %d / clears %d\n", stats.Updates, stats.Clears)
		if !stats.ConnectedSince.IsZero() {
			fmt.Fprintf(&b, "Up since: %s\n", relative(stats.ConnectedSince, now))
		}
		if !stats.RetryAt.IsZero() && stats.RetryAt.After(now) {
			fmt.Fprintf(&b, "Retry:    %s\n", humanize.RelTime(stats.RetryAt, now, "ago", "from now"))
		}
		if stats.LastError != "" {
			b.WriteString(theme.Error.Render("Last error: " + stats.LastError))
			b.WriteString("\n")
		}
	}

	if cacheLen >= 0 {
		b.WriteString("\n")
		fmt.Fprintf(&b, "Artwork cached: %d\n", cacheLen)
	}
	fmt.Fprintf(&b, "Memory:   %s, %d goroutines", humanize.Bytes(d.MemoryUsage), d.Goroutines)
	return theme.Box.Render(b.String())
}

func relative(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
