package art

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/lyrebird-fm/lyrebird/models"
)

const lastfmAPIBaseURL = "https://ws.audioscrobbler.com/2.0/"

// LastFMProvider offers album art and artist images from the Last.fm API.
type LastFMProvider struct {
	client  *http.Client
	apiKey  string
	baseURL string
	limiter *rate.Limiter
}

func NewLastFMProvider(apiKey string) *LastFMProvider {
	return &LastFMProvider{
		client:  metaClient,
		apiKey:  apiKey,
		baseURL: lastfmAPIBaseURL,
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
}

func (p *LastFMProvider) ID() models.ProviderID { return "lastfm" }

type lfmImage struct {
	Size string `json:"size"`  // "small" ... "extralarge", "mega"
	Text string `json:"#text"` // URL
}

type lfmAlbumInfoResponse struct {
	Album struct {
		Image []lfmImage `json:"image"`
	} `json:"album"`
}

type lfmArtistInfoResponse struct {
	Artist struct {
		Image []lfmImage `json:"image"`
	} `json:"artist"`
}

func (p *LastFMProvider) AlbumArt(ctx context.Context, q Query) ([]Candidate, error) {
	if q.Album == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("method", "album.getinfo")
	params.Set("artist", q.Artist)
	params.Set("album", q.Album)

	var payload lfmAlbumInfoResponse
	if err := p.call(ctx, params, &payload); err != nil {
		return nil, err
	}

	var out []Candidate
	for _, img := range payload.Album.Image {
		if img.Text == "" {
			continue
		}
		if px := lfmSizePx(img.Size); px >= 300 {
			out = append(out, Candidate{ProviderID: p.ID(), URL: img.Text, ResolutionPx: px})
		}
	}
	return out, nil
}

func (p *LastFMProvider) ArtistImages(ctx context.Context, artist string) ([]string, error) {
	params := url.Values{}
	params.Set("method", "artist.getinfo")
	params.Set("artist", artist)

	var payload lfmArtistInfoResponse
	if err := p.call(ctx, params, &payload); err != nil {
		return nil, err
	}

	var urls []string
	for _, img := range payload.Artist.Image {
		if img.Text != "" && lfmSizePx(img.Size) >= 300 {
			urls = append(urls, img.Text)
		}
	}
	return urls, nil
}

func (p *LastFMProvider) call(ctx context.Context, params url.Values, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	params.Set("api_key", p.apiKey)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lastfm status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func lfmSizePx(size string) int {
	switch size {
	case "mega":
		return 600
	case "extralarge":
		return 300
	case "large":
		return 174
	case "medium":
		return 64
	default:
		return 34
	}
}
