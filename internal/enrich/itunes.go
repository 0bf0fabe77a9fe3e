package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/musicrpc/musicrpc/internal/song"
)

const itunesURL = "https://itunes.apple.com/search"

// ITunes searches the iTunes Search API. It has no artist images.
type ITunes struct {
	BaseURL string
	client  *http.Client
}

func NewITunes(timeout time.Duration) *ITunes {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ITunes{BaseURL: itunesURL, client: &http.Client{Timeout: timeout}}
}

type itunesSearch struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		ArtworkURL100  string `json:"artworkUrl100"`
		TrackViewURL   string `json:"trackViewUrl"`
		CollectionName string `json:"collectionName"`
	} `json:"results"`
}

func (it *ITunes) Enrich(ctx context.Context, info song.Info) (Artwork, error) {
	if !searchable(info) {
		return Artwork{}, ErrNoMatch
	}
	params := url.Values{
		"term":   {primaryArtist(info.Artist) + " " + info.Title},
		"media":  {"music"},
		"entity": {"song"},
		"limit":  {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, it.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return Artwork{}, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := it.client.Do(req)
	if err != nil {
		return Artwork{}, fmt.Errorf("itunes search: %w", err)
	}
	defer resp.Body.Close()
	if err := statusError("itunes", resp); err != nil {
		return Artwork{}, err
	}

	var result itunesSearch
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Artwork{}, fmt.Errorf("decode itunes response: %w", err)
	}
	if len(result.Results) == 0 {
		return Artwork{}, ErrNoMatch
	}
	hit := result.Results[0]
	return Artwork{
		CoverURL: strings.Replace(hit.ArtworkURL100, "100x100bb", "600x600bb", 1),
		Link:     hit.TrackViewURL,
		Album:    hit.CollectionName,
	}, nil
}
