package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/musicrpc/musicrpc/internal/song"
)

const deezerURL = "https://api.deezer.com/search"

// Deezer searches the public Deezer catalogue. It needs no credentials.
type Deezer struct {
	BaseURL string
	client  *http.Client
}

func NewDeezer(timeout time.Duration) *Deezer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Deezer{BaseURL: deezerURL, client: &http.Client{Timeout: timeout}}
}

type deezerSearch struct {
	Data []struct {
		Link  string `json:"link"`
		Album struct {
			Title       string `json:"title"`
			CoverMedium string `json:"cover_medium"`
			CoverBig    string `json:"cover_big"`
		} `json:"album"`
		Artist struct {
			PictureSmall string `json:"picture_small"`
		} `json:"artist"`
	} `json:"data"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// deezer reports quota errors in a 200 body with this code
const deezerQuotaCode = 4

func (d *Deezer) Enrich(ctx context.Context, info song.Info) (Artwork, error) {
	if !searchable(info) {
		return Artwork{}, ErrNoMatch
	}
	q := fmt.Sprintf("artist:%q track:%q", primaryArtist(info.Artist), info.Title)
	endpoint := d.BaseURL + "?" + url.Values{"q": {q}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Artwork{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Artwork{}, fmt.Errorf("deezer search: %w", err)
	}
	defer resp.Body.Close()
	if err := statusError("deezer", resp); err != nil {
		return Artwork{}, err
	}

	var result deezerSearch
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Artwork{}, fmt.Errorf("decode deezer response: %w", err)
	}
	if result.Error != nil {
		if result.Error.Code == deezerQuotaCode {
			return Artwork{}, fmt.Errorf("deezer: %w", ErrRateLimited)
		}
		return Artwork{}, fmt.Errorf("deezer error: %s", result.Error.Message)
	}
	if len(result.Data) == 0 {
		return Artwork{}, ErrNoMatch
	}
	hit := result.Data[0]
	cover := hit.Album.CoverMedium
	if cover == "" {
		cover = hit.Album.CoverBig
	}
	return Artwork{
		CoverURL:       cover,
		ArtistImageURL: hit.Artist.PictureSmall,
		Link:           hit.Link,
		Album:          hit.Album.Title,
	}, nil
}
