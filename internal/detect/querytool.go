package detect

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/musicrpc/musicrpc/internal/song"
)

const (
	rawTitle    = "kMRMediaRemoteNowPlayingInfoTitle"
	rawArtist   = "kMRMediaRemoteNowPlayingInfoArtist"
	rawAlbum    = "kMRMediaRemoteNowPlayingInfoAlbum"
	rawDuration = "kMRMediaRemoteNowPlayingInfoDuration"
	rawElapsed  = "kMRMediaRemoteNowPlayingInfoElapsedTime"
	rawRate     = "kMRMediaRemoteNowPlayingInfoPlaybackRate"
)

// QueryTool reads the system now-playing session through nowplaying-cli.
type QueryTool struct {
	Player string
	// BundleIDs restricts readings to these applications. A reading that
	// names another application's bundle is discarded; one without a bundle
	// identifier is accepted.
	BundleIDs []string
	Runner    Runner
	Command   string
}

func (q *QueryTool) Name() string { return "query-tool" }

func (q *QueryTool) command() string {
	if q.Command == "" {
		return "nowplaying-cli"
	}
	return q.Command
}

func (q *QueryTool) Read(ctx context.Context) (*song.Info, error) {
	out, err := q.Runner.Run(ctx, q.command(), "get-raw")
	if err != nil {
		return nil, err
	}
	raw := ParseRawNowPlaying(string(out))
	if len(raw) == 0 {
		return nil, ErrNoData
	}
	if bundle := rawBundle(raw); bundle != "" && len(q.BundleIDs) > 0 && !containsFold(q.BundleIDs, bundle) {
		return nil, ErrNoData
	}

	title, artist, album := raw[rawTitle], raw[rawArtist], raw[rawAlbum]
	if title == "" {
		// older builds omit text fields from the raw dump
		out, err := q.Runner.Run(ctx, q.command(), "get", "title", "artist", "album")
		if err != nil {
			return nil, err
		}
		title, artist, album = parseGetFields(string(out))
	}
	if title == "" {
		return nil, ErrNoData
	}

	info := song.New(title, artist, album, q.Player,
		song.WithDuration(parseSeconds(raw[rawDuration])),
		song.WithElapsed(parseSeconds(raw[rawElapsed])),
		song.WithPlaying(parseSecondsFloat(raw[rawRate]) > 0),
	)
	return &info, nil
}

// ParseRawNowPlaying turns the property-list style dump printed by
// `nowplaying-cli get-raw` into a flat key/value map. Nested values are
// skipped.
func ParseRawNowPlaying(out string) map[string]string {
	values := make(map[string]string)
	depth := 0
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, " = ")
		if !found {
			depth += strings.Count(line, "{") + strings.Count(line, "(")
			depth -= strings.Count(line, "}") + strings.Count(line, ")")
			continue
		}
		value = strings.TrimSuffix(strings.TrimSpace(value), ";")
		if value == "{" || value == "(" {
			depth++
			continue
		}
		if depth > 1 {
			continue
		}
		values[strings.Trim(key, `"`)] = unquote(value)
	}
	return values
}

func unquote(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		if s, err := strconv.Unquote(v); err == nil {
			return s
		}
		return v[1 : len(v)-1]
	}
	return v
}

func rawBundle(raw map[string]string) string {
	for key, value := range raw {
		if strings.HasSuffix(key, "BundleIdentifier") || strings.HasSuffix(key, "ApplicationDisplayID") {
			return value
		}
	}
	return ""
}

// parseGetFields reads `nowplaying-cli get title artist album`, one value per
// line with "null" for missing fields.
func parseGetFields(out string) (title, artist, album string) {
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	field := func(i int) string {
		if i >= len(lines) {
			return ""
		}
		v := strings.TrimSpace(lines[i])
		if v == "null" || v == "(null)" {
			return ""
		}
		return v
	}
	return field(0), field(1), field(2)
}

func parseSecondsFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

func parseSeconds(v string) time.Duration {
	return time.Duration(parseSecondsFloat(v) * float64(time.Second))
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
