package detect

import (
	"log/slog"
	"runtime"
	"strings"
)

const (
	Deezer     = "Deezer"
	Tidal      = "TIDAL"
	MPRISAny   = "MPRIS"
	AppleMusic = "Apple Music"
	Spotify    = "Spotify"
)

var aliases = map[string]string{
	"apple music": AppleMusic,
	"applemusic":  AppleMusic,
	"music":       AppleMusic,
	"music.app":   AppleMusic,
	"musicapp":    AppleMusic,
	"itunes":      AppleMusic,
	"deezer":      Deezer,
	"tidal":       Tidal,
	"spotify":     Spotify,
	"mpris":       MPRISAny,
}

// CanonicalName maps user-facing spellings of a player name onto the name
// its detector registers under. Unknown names are returned trimmed.
func CanonicalName(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if canon, ok := aliases[key]; ok {
		return canon
	}
	return strings.TrimSpace(name)
}

// PlayerOptions carries the shared dependencies of the built-in detectors.
type PlayerOptions struct {
	Runner Runner
	Bus    Bus
	GOOS   string
	Logger *slog.Logger
}

type playerSpec struct {
	desc      Descriptor
	processes map[string][]string
	// windows are the process (or WM_CLASS fragment) names owning the
	// player's windows, per GOOS
	windows   map[string][]string
	parse     TitleParser
	bundles   []string
	mpris     []string
}

var specs = []playerSpec{
	{
		desc: Descriptor{Name: Deezer, Priority: 10, Caps: CapElapsed},
		processes: map[string][]string{
			"darwin":  {"Deezer"},
			"windows": {"Deezer.exe"},
			"linux":   {"deezer-desktop", "deezer"},
		},
		windows: map[string][]string{
			"darwin":  {"Deezer"},
			"windows": {"Deezer"},
			"linux":   {"deezer"},
		},
		parse:   ParseDeezerTitle,
		bundles: []string{"com.deezer.Deezer", "com.deezer.deezer-desktop"},
		mpris:   []string{"deezer"},
	},
	{
		desc: Descriptor{Name: Tidal, Priority: 20, Caps: CapElapsed},
		processes: map[string][]string{
			"darwin":  {"TIDAL"},
			"windows": {"TIDAL.exe"},
			"linux":   {"tidal-hifi"},
		},
		windows: map[string][]string{
			"darwin":  {"TIDAL"},
			"windows": {"TIDAL"},
			"linux":   {"tidal"},
		},
		parse:   ParseTidalTitle,
		bundles: []string{"com.tidal.desktop"},
		mpris:   []string{"tidal"},
	},
	{
		desc: Descriptor{Name: AppleMusic, Priority: 80, Caps: CapElapsed},
		processes: map[string][]string{
			"darwin":  {"Music"},
			"windows": {"AppleMusic.exe"},
		},
		windows: map[string][]string{
			"linux": {"chrom", "firefox", "brave", "edge"},
		},
		parse:   ParseAppleMusicWebTitle,
		bundles: []string{"com.apple.Music"},
	},
	{
		desc: Descriptor{Name: Spotify, Priority: 90, Caps: CapElapsed},
		processes: map[string][]string{
			"darwin":  {"Spotify"},
			"windows": {"Spotify.exe"},
			"linux":   {"spotify"},
		},
		windows: map[string][]string{
			"darwin":  {"Spotify"},
			"windows": {"Spotify"},
			"linux":   {"spotify"},
		},
		parse:   ParseSpotifyTitle,
		bundles: []string{"com.spotify.client"},
		mpris:   []string{"spotify"},
	},
}

// DefaultPlayers builds the built-in detectors for the current platform. This
// is the single place new players are added.
func DefaultPlayers(opts PlayerOptions) []Detector {
	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	if opts.Runner == nil {
		opts.Runner = NewExecRunner(0)
	}
	if opts.Bus == nil {
		opts.Bus = &SessionBus{}
	}
	lister := NewWindowLister(opts.Runner, goos)

	var detectors []Detector
	var named []string
	for _, spec := range specs {
		if d := buildPlayer(spec, goos, lister, opts); d != nil {
			detectors = append(detectors, d)
		}
		named = append(named, spec.mpris...)
	}

	if goos == "linux" {
		generic := &MPRIS{Exclude: named, Bus: opts.Bus}
		detectors = append(detectors, NewPlayer(
			Descriptor{Name: MPRISAny, Priority: 50, Caps: CapElapsed | CapArtwork},
			generic, opts.Logger, generic))
	}
	return detectors
}

func buildPlayer(spec playerSpec, goos string, lister WindowLister, opts PlayerOptions) Detector {
	name := spec.desc.Name
	var probes anyProbe
	var strategies []Strategy

	if names := spec.processes[goos]; len(names) > 0 {
		probes = append(probes, NewProcesses(opts.Runner, goos, names...))
	}

	desc := spec.desc
	switch goos {
	case "darwin":
		if name == AppleMusic {
			strategies = append(strategies, &AppleScript{Player: name, Runner: opts.Runner})
		}
		strategies = append(strategies, &QueryTool{Player: name, BundleIDs: spec.bundles, Runner: opts.Runner})
	case "linux":
		if len(spec.mpris) > 0 {
			m := &MPRIS{Player: name, Match: spec.mpris, Bus: opts.Bus}
			probes = append(probes, m)
			strategies = append(strategies, m)
			desc.Caps |= CapArtwork
		}
	}

	if windows := spec.windows[goos]; len(windows) > 0 && spec.parse != nil {
		w := &WindowTitle{Player: name, Processes: windows, Lister: lister, Parse: spec.parse, Logger: opts.Logger}
		strategies = append(strategies, w)
		if len(spec.processes[goos]) == 0 {
			probes = append(probes, windowProbe{w: w})
		}
	}

	if len(probes) == 0 {
		return nil
	}
	if procs := spec.processes[goos]; len(procs) > 0 {
		strategies = append(strategies, &ProcessOnly{Player: name, Probe: NewProcesses(opts.Runner, goos, procs...)})
	}
	return NewPlayer(desc, probes, opts.Logger, strategies...)
}
