package presence

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/musicrpc/musicrpc/internal/song"
)

// ActivityListening is Discord's "Listening to" activity type.
const ActivityListening = 2

const (
	maxText = 128
	minText = 2

	DefaultLargeImage = "music_icon"
)

type Activity struct {
	Type       int         `json:"type"`
	Details    string      `json:"details,omitempty"`
	State      string      `json:"state,omitempty"`
	Assets     *Assets     `json:"assets,omitempty"`
	Timestamps *Timestamps `json:"timestamps,omitempty"`
	Buttons    []Button    `json:"buttons,omitempty"`
	Instance   bool        `json:"instance"`
}

type Assets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

// Timestamps are unix milliseconds.
type Timestamps struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

type Button struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// BuildActivity renders a song as a Listening activity. Text is clipped to
// Discord's limits, so the result is always sendable.
func BuildActivity(info song.Info, now time.Time, largeImage string) Activity {
	if largeImage == "" {
		largeImage = DefaultLargeImage
	}
	player := info.Player
	if player == "" {
		player = "Music Player"
	}

	assets := &Assets{LargeImage: largeImage, LargeText: fitText(player)}
	if info.ArtworkURL != "" {
		assets.LargeImage = info.ArtworkURL
		if album := info.DisplayAlbum(); album != "" {
			assets.LargeText = fitText(album)
		}
	}
	if info.ArtistImageURL != "" {
		assets.SmallImage = info.ArtistImageURL
		assets.SmallText = fitText(info.Artist)
	} else if key := PlayerIconKey(player); key != "" {
		assets.SmallImage = key
		assets.SmallText = fitText(player)
	}

	act := Activity{
		Type:    ActivityListening,
		Details: fitText(info.Title),
		State:   fitText("by " + info.Artist),
		Assets:  assets,
	}

	ts := &Timestamps{Start: now.Add(-info.Elapsed).UnixMilli()}
	if info.Duration > 0 {
		ts.End = now.Add(info.Remaining()).UnixMilli()
	}
	act.Timestamps = ts

	if strings.HasPrefix(info.URL, "https://") {
		act.Buttons = []Button{{Label: "Listen on " + player, URL: info.URL}}
	}
	return act
}

// PlayerIconKey is the uploaded asset key for a player, e.g. "apple_music".
func PlayerIconKey(player string) string {
	key := strings.ToLower(strings.TrimSpace(player))
	return strings.ReplaceAll(key, " ", "_")
}

func fitText(s string) string {
	s = song.Truncate(strings.TrimSpace(s), maxText)
	if n := utf8.RuneCountInString(s); n < minText {
		s += strings.Repeat(" ", minText-n)
	}
	return s
}
