package art

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/lyrebird-fm/lyrebird/models"
)

const itunesSearchURL = "https://itunes.apple.com/search"

// ITunesProvider searches the iTunes catalog for album art. The catalog
// serves thumbnails at 100px but the CDN honors arbitrary sizes in the
// path, so each hit yields a 600px and a 1000px candidate.
type ITunesProvider struct {
	client    *http.Client
	searchURL string
}

func NewITunesProvider() *ITunesProvider {
	return &ITunesProvider{client: metaClient, searchURL: itunesSearchURL}
}

func (p *ITunesProvider) ID() models.ProviderID { return "itunes" }

type itunesSearchResponse struct {
	Results []struct {
		ArtistName     string `json:"artistName"`
		CollectionName string `json:"collectionName"`
		ArtworkURL100  string `json:"artworkUrl100"`
	} `json:"results"`
}

func (p *ITunesProvider) AlbumArt(ctx context.Context, q Query) ([]Candidate, error) {
	term := q.Artist + " " + q.Album
	if q.Album == "" {
		term = q.Artist + " " + q.Title
	}

	params := url.Values{}
	params.Set("term", term)
	params.Set("entity", "album")
	params.Set("limit", "5")

	req, err := http.NewRequestWithContext(ctx, "GET", p.searchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("itunes search status %d", resp.StatusCode)
	}

	var payload itunesSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding itunes search: %w", err)
	}

	var out []Candidate
	for _, hit := range payload.Results {
		if hit.ArtworkURL100 == "" {
			continue
		}
		out = append(out,
			Candidate{
				ProviderID:   p.ID(),
				URL:          strings.Replace(hit.ArtworkURL100, "100x100", "1000x1000", 1),
				ResolutionPx: 1000,
			},
			Candidate{
				ProviderID:   p.ID(),
				URL:          strings.Replace(hit.ArtworkURL100, "100x100", "600x600", 1),
				ResolutionPx: 600,
			},
		)
		break // first hit is the search's own relevance ranking
	}
	return out, nil
}
