package detect

import (
	"regexp"
	"strings"
)

// TitleParser extracts a track from a player window title. ok is false for
// idle titles and anything that does not match the player's format.
type TitleParser func(windowTitle string) (title, artist string, ok bool)

var dashes = strings.NewReplacer(" – ", " - ", " — ", " - ")

func normalizeDashes(s string) string {
	return strings.TrimSpace(dashes.Replace(s))
}

var deezerTitle = regexp.MustCompile(`^(.*) - (.*) - Deezer$`)

// ParseDeezerTitle handles "Song - Artist - Deezer".
func ParseDeezerTitle(window string) (string, string, bool) {
	window = normalizeDashes(window)
	if window == "" || window == "Deezer" {
		return "", "", false
	}
	m := deezerTitle.FindStringSubmatch(window)
	if m == nil {
		return "", "", false
	}
	return nonEmpty(strings.TrimSpace(m[1]), strings.TrimSpace(m[2]))
}

// ParseSpotifyTitle handles "Artist - Title". The idle window is titled
// "Spotify" or "Spotify Premium".
func ParseSpotifyTitle(window string) (string, string, bool) {
	window = normalizeDashes(window)
	switch window {
	case "", "Spotify", "Spotify Premium", "Spotify Free":
		return "", "", false
	}
	artist, title, found := strings.Cut(window, " - ")
	if !found {
		return "", "", false
	}
	return nonEmpty(strings.TrimSpace(title), strings.TrimSpace(artist))
}

// ParseTidalTitle handles "Title - Artist". Titles may themselves contain
// " - " (remix, remaster), so the artist is taken after the last separator.
func ParseTidalTitle(window string) (string, string, bool) {
	window = normalizeDashes(window)
	if window == "" || strings.EqualFold(window, "TIDAL") {
		return "", "", false
	}
	i := strings.LastIndex(window, " - ")
	if i < 0 {
		return "", "", false
	}
	return nonEmpty(strings.TrimSpace(window[:i]), strings.TrimSpace(window[i+3:]))
}

// ParseAppleMusicWebTitle handles "Title by Artist - Apple Music".
func ParseAppleMusicWebTitle(window string) (string, string, bool) {
	window = normalizeDashes(window)
	rest, found := strings.CutSuffix(window, " - Apple Music")
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, " by ")
	if i < 0 {
		return "", "", false
	}
	return nonEmpty(strings.TrimSpace(rest[:i]), strings.TrimSpace(rest[i+4:]))
}

func nonEmpty(title, artist string) (string, string, bool) {
	if title == "" || artist == "" {
		return "", "", false
	}
	return title, artist, true
}
