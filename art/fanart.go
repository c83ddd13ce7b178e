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

const fanartBaseURL = "https://webservice.fanart.tv/v3/music"

// FanartProvider pulls artist photographs from fanart.tv. The service is
// keyed by MusicBrainz artist id, so each lookup resolves the artist
// through MusicBrainz first.
type FanartProvider struct {
	client  *http.Client
	apiKey  string
	mbURL   string
	baseURL string
	limiter *rate.Limiter
}

func NewFanartProvider(apiKey string) *FanartProvider {
	return &FanartProvider{
		client:  metaClient,
		apiKey:  apiKey,
		mbURL:   musicbrainzBaseURL,
		baseURL: fanartBaseURL,
		limiter: rate.NewLimiter(rate.Limit(1), 1),
	}
}

func (p *FanartProvider) ID() models.ProviderID { return "fanart" }

type mbArtistSearchResponse struct {
	Artists []struct {
		ID    string `json:"id"`
		Score int    `json:"score"`
	} `json:"artists"`
}

type fanartResponse struct {
	ArtistBackground []struct {
		URL string `json:"url"`
	} `json:"artistbackground"`
	ArtistThumb []struct {
		URL string `json:"url"`
	} `json:"artistthumb"`
}

func (p *FanartProvider) ArtistImages(ctx context.Context, artist string) ([]string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := p.mbURL + "/artist/?query=" + url.QueryEscape(fmt.Sprintf("artist:%q", artist)) + "&fmt=json&limit=1"
	var search mbArtistSearchResponse
	if err := p.getJSON(ctx, endpoint, nil, &search); err != nil {
		return nil, err
	}
	if len(search.Artists) == 0 || search.Artists[0].Score < 90 {
		return nil, nil
	}

	var payload fanartResponse
	err := p.getJSON(ctx, fmt.Sprintf("%s/%s", p.baseURL, search.Artists[0].ID),
		url.Values{"api_key": {p.apiKey}}, &payload)
	if err != nil {
		return nil, err
	}

	// Backgrounds are the high-resolution shots; thumbs pad the slideshow.
	var urls []string
	for _, img := range payload.ArtistBackground {
		urls = append(urls, img.URL)
	}
	for _, img := range payload.ArtistThumb {
		urls = append(urls, img.URL)
	}
	if len(urls) > 8 {
		urls = urls[:8]
	}
	return urls, nil
}

func (p *FanartProvider) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
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

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fanart lookup status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
