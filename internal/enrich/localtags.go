package enrich

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"

	"github.com/musicrpc/musicrpc/internal/song"
)

// LocalTags reads the album of a locally played file from its tags. Players
// that expose a file location (MPRIS xesam:url) often omit the album.
type LocalTags struct{}

func (LocalTags) Enrich(ctx context.Context, info song.Info) (Artwork, error) {
	path, ok := localPath(info.Location)
	if !ok {
		return Artwork{}, ErrNoMatch
	}
	if err := ctx.Err(); err != nil {
		return Artwork{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Artwork{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		// untagged or unsupported format
		return Artwork{}, ErrNoMatch
	}
	album := strings.TrimSpace(meta.Album())
	if album == "" {
		return Artwork{}, ErrNoMatch
	}
	return Artwork{Album: album}, nil
}

func localPath(location string) (string, bool) {
	if location == "" {
		return "", false
	}
	if filepath.IsAbs(location) {
		return location, true
	}
	u, err := url.Parse(location)
	if err != nil || u.Scheme != "file" || u.Path == "" {
		return "", false
	}
	return filepath.FromSlash(u.Path), true
}
