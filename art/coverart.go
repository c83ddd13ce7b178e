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

const (
	musicbrainzBaseURL = "https://musicbrainz.org/ws/2"
	coverartBaseURL    = "https://coverartarchive.org"
)

// CoverArtProvider resolves a release through MusicBrainz search and pulls
// its front image from the Cover Art Archive. MusicBrainz enforces one
// request per second per client, so both lookups share a limiter.
type CoverArtProvider struct {
	client     *http.Client
	mbURL      string
	archiveURL string
	limiter    *rate.Limiter
}

func NewCoverArtProvider() *CoverArtProvider {
	return &CoverArtProvider{
		client:     metaClient,
		mbURL:      musicbrainzBaseURL,
		archiveURL: coverartBaseURL,
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
	}
}

func (p *CoverArtProvider) ID() models.ProviderID { return "coverart" }

type mbReleaseSearchResponse struct {
	Releases []struct {
		ID    string `json:"id"`
		Score int    `json:"score"`
	} `json:"releases"`
}

type coverartResponse struct {
	Images []struct {
		Front      bool   `json:"front"`
		Image      string `json:"image"`
		Thumbnails struct {
			Large string `json:"1200"`
			Small string `json:"500"`
		} `json:"thumbnails"`
	} `json:"images"`
}

func (p *CoverArtProvider) AlbumArt(ctx context.Context, q Query) ([]Candidate, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`artist:%q AND release:%q`, q.Artist, q.Album)
	if q.Album == "" {
		query = fmt.Sprintf(`artist:%q AND recording:%q`, q.Artist, q.Title)
	}
	endpoint := p.mbURL + "/release/?query=" + url.QueryEscape(query) + "&fmt=json&limit=3"

	var search mbReleaseSearchResponse
	if err := p.getJSON(ctx, endpoint, &search); err != nil {
		return nil, err
	}
	if len(search.Releases) == 0 {
		return nil, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var covers coverartResponse
	err := p.getJSON(ctx, fmt.Sprintf("%s/release/%s", p.archiveURL, search.Releases[0].ID), &covers)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, img := range covers.Images {
		if !img.Front {
			continue
		}
		if img.Thumbnails.Large != "" {
			out = append(out, Candidate{ProviderID: p.ID(), URL: img.Thumbnails.Large, ResolutionPx: 1200})
		} else if img.Image != "" {
			out = append(out, Candidate{ProviderID: p.ID(), URL: img.Image, ResolutionPx: 1200})
		}
		if img.Thumbnails.Small != "" {
			out = append(out, Candidate{ProviderID: p.ID(), URL: img.Thumbnails.Small, ResolutionPx: 500})
		}
		break
	}
	return out, nil
}

func (p *CoverArtProvider) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// The archive answers 404 for releases without scanned art.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cover art lookup status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
