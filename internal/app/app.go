// Package app is the optional terminal status screen. It only observes the
// scheduler: every change it makes goes through scheduler requests.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/musicrpc/musicrpc/internal/config"
	"github.com/musicrpc/musicrpc/internal/presence"
	"github.com/musicrpc/musicrpc/internal/scheduler"
	"github.com/musicrpc/musicrpc/internal/ui"
)

// Controller is the slice of the scheduler the keys drive.
type Controller interface {
	SetPresenceEnabled(enabled bool)
	SetInterval(d time.Duration)
}

type Options struct {
	Controller Controller
	Snapshots  <-chan scheduler.Snapshot
	// Reload re-reads the config file. Nil disables the key.
	Reload func(ctx context.Context) error
	// CacheLen reports the number of artwork lookups held in memory.
	CacheLen func() int
	Theme    ui.Theme
	Version  string
	Now      func() time.Time
}

type Model struct {
	opts  Options
	theme ui.Theme
	diag  *Diagnostics

	snap     scheduler.Snapshot
	haveSnap bool
	interval time.Duration
	enabled  bool
	status   string
	errorMsg string
	width    int
	height   int
}

type snapshotMsg scheduler.Snapshot

type snapshotsClosedMsg struct{}

type reloadMsg struct {
	err error
}

func New(opts Options) Model {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Theme.Name == "" {
		opts.Theme = ui.GetTheme(ui.DefaultTheme, false)
	}
	return Model{
		opts:    opts,
		theme:   opts.Theme,
		diag:    NewDiagnostics(opts.Now()),
		enabled: true,
		status:  "Waiting for the first poll…",
	}
}

func (m Model) Init() tea.Cmd {
	return waitSnapshot(m.opts.Snapshots)
}

func waitSnapshot(ch <-chan scheduler.Snapshot) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return snapshotsClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m Model) reloadCmd() tea.Cmd {
	reload := m.opts.Reload
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return reloadMsg{err: reload(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case snapshotMsg:
		snap := scheduler.Snapshot(msg)
		m.snap = snap
		m.haveSnap = true
		m.interval = snap.Interval
		m.enabled = snap.PresenceEnabled
		m.diag.Observe(snap)
		m.status = ""
		return m, waitSnapshot(m.opts.Snapshots)

	case snapshotsClosedMsg:
		return m, tea.Quit

	case reloadMsg:
		if msg.err != nil {
			m.errorMsg = fmt.Sprintf("Reload failed: %v", msg.err)
			return m, nil
		}
		m.errorMsg = ""
		m.status = "Config reloaded"
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "d":
		m.enabled = !m.enabled
		if m.opts.Controller != nil {
			m.opts.Controller.SetPresenceEnabled(m.enabled)
		}
		if m.enabled {
			m.status = "Discord presence enabled"
		} else {
			m.status = "Discord presence disabled"
		}
	case "r":
		if m.opts.Reload == nil {
			m.status = "Reload unavailable"
			return m, nil
		}
		m.status = "Reloading config…"
		return m, m.reloadCmd()
	case "+", "=":
		m.stepInterval(time.Second)
	case "-", "_":
		m.stepInterval(-time.Second)
	}
	return m, nil
}

// stepInterval nudges the poll interval within the configured bounds.
func (m *Model) stepInterval(delta time.Duration) {
	cur := m.interval
	if cur == 0 {
		cur = config.Default().Interval()
	}
	next := clampInterval(cur + delta)
	if next == cur {
		return
	}
	m.interval = next
	if m.opts.Controller != nil {
		m.opts.Controller.SetInterval(next)
	}
	m.status = fmt.Sprintf("Poll interval %s", next)
}

func clampInterval(d time.Duration) time.Duration {
	lo := config.MinIntervalSecs * time.Second
	hi := config.MaxIntervalSecs * time.Second
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func (m Model) View() string {
	var b strings.Builder

	title := "MusicRPC"
	if m.opts.Version != "" {
		title += " " + m.opts.Version
	}
	b.WriteString(m.theme.Title.Render(title))
	b.WriteString("\n\n")

	panels := []string{m.nowPlayingView(), m.diag.Render(m.theme, m.opts.Now(), m.snap.Stats, m.cacheLen())}
	if m.width > 0 && m.width < 80 {
		b.WriteString(lipgloss.JoinVertical(lipgloss.Left, panels...))
	} else {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panels[0], " ", panels[1]))
	}
	b.WriteString("\n")

	if m.errorMsg != "" {
		b.WriteString(m.theme.Error.Render(m.errorMsg))
		b.WriteString("\n")
	} else if m.status != "" {
		b.WriteString(m.theme.Dim.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(m.theme.Dim.Render("q quit · d toggle presence · r reload · +/- interval"))
	return b.String()
}

func (m Model) nowPlayingView() string {
	var b strings.Builder
	b.WriteString(m.theme.Accent.Render("Now Playing"))
	b.WriteString("\n")

	info := m.snap.Song
	switch {
	case !m.haveSnap:
		b.WriteString(m.theme.Dim.Render("…"))
	case info == nil:
		b.WriteString(m.theme.Dim.Render("Nothing playing"))
	case info.IsPlaceholder():
		b.WriteString(m.theme.Text.Render(info.Title))
		b.WriteString("\n")
		b.WriteString(m.theme.Dim.Render(info.Player))
	default:
		b.WriteString(m.theme.Text.Render(info.Title))
		b.WriteString("\n")
		b.WriteString(m.theme.Text.Render("by " + info.Artist))
		if album := info.DisplayAlbum(); album != "" {
			b.WriteString("\n")
			b.WriteString(m.theme.Dim.Render("on " + album))
		}
		b.WriteString("\n")
		state := m.theme.Success.Render("▶ Playing")
		if !info.Playing {
			state = m.theme.Warning.Render("❚❚ Paused")
		}
		b.WriteString(state)
		if info.Duration > 0 {
			b.WriteString(m.theme.Dim.Render(fmt.Sprintf("  %s / %s", clock(info.Elapsed), clock(info.Duration))))
		}
		b.WriteString("\n")
		b.WriteString(m.theme.Dim.Render("via " + info.Player))
	}
	b.WriteString("\n\n")

	b.WriteString(m.theme.Accent.Render("Discord"))
	b.WriteString("\n")
	b.WriteString(m.presenceLine())
	return m.theme.Box.Render(b.String())
}

func (m Model) presenceLine() string {
	if !m.enabled {
		return m.theme.Dim.Render("○ Disabled")
	}
	switch m.snap.State {
	case presence.Connected:
		return m.theme.Success.Render("● Connected")
	case presence.Connecting:
		return m.theme.Warning.Render("◌ Connecting")
	case presence.Backoff:
		line := "○ Unavailable"
		if m.snap.Delay > 0 {
			line += fmt.Sprintf(", retry in %s", m.snap.Delay)
		}
		return m.theme.Error.Render(line)
	}
	return m.theme.Dim.Render("○ Disconnected")
}

func (m Model) cacheLen() int {
	if m.opts.CacheLen == nil {
		return -1
	}
	return m.opts.CacheLen()
}

func clock(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
