package art

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/lyrebird-fm/lyrebird/models"
)

const spotifySearchURL = "https://api.spotify.com/v1/search"

// TokenFunc hands a provider a live access token for the linked streaming
// account.
type TokenFunc func(ctx context.Context) (string, error)

// SpotifyArtProvider searches the streaming catalog for album covers.
// Available only when the account is linked.
type SpotifyArtProvider struct {
	client    *http.Client
	token     TokenFunc
	searchURL string
}

func NewSpotifyArtProvider(token TokenFunc) *SpotifyArtProvider {
	return &SpotifyArtProvider{client: metaClient, token: token, searchURL: spotifySearchURL}
}

func (p *SpotifyArtProvider) ID() models.ProviderID { return "spotify" }

type spotifySearchResponse struct {
	Albums struct {
		Items []struct {
			Images []struct {
				URL    string `json:"url"`
				Width  int    `json:"width"`
				Height int    `json:"height"`
			} `json:"images"`
		} `json:"items"`
	} `json:"albums"`
}

func (p *SpotifyArtProvider) AlbumArt(ctx context.Context, q Query) ([]Candidate, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("spotify art token: %w", err)
	}

	term := fmt.Sprintf("album:%s artist:%s", q.Album, q.Artist)
	if q.Album == "" {
		term = fmt.Sprintf("track:%s artist:%s", q.Title, q.Artist)
	}
	params := url.Values{}
	params.Set("q", term)
	params.Set("type", "album")
	params.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, "GET", p.searchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spotify search status %d", resp.StatusCode)
	}

	var payload spotifySearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding spotify search: %w", err)
	}
	if len(payload.Albums.Items) == 0 {
		return nil, nil
	}

	var out []Candidate
	for _, img := range payload.Albums.Items[0].Images {
		px := img.Width
		if img.Height > px {
			px = img.Height
		}
		if px >= 300 {
			out = append(out, Candidate{ProviderID: p.ID(), URL: img.URL, ResolutionPx: px})
		}
	}
	return out, nil
}
