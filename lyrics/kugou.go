package lyrics

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lyrebird-fm/lyrebird/models"
)

// KugouProvider queries the Kugou krc/lrc database. Kugou serves
// candidates from a search endpoint and the lyric body base64-encoded from
// a download endpoint.
type KugouProvider struct {
	client    *http.Client
	searchURL string
	lyricURL  string
}

func NewKugouProvider() *KugouProvider {
	return &KugouProvider{
		client:    httpClient,
		searchURL: "https://lyrics.kugou.com/search",
		lyricURL:  "https://lyrics.kugou.com/download",
	}
}

func (k *KugouProvider) ID() models.ProviderID { return "kugou" }

type kugouSearchResponse struct {
	Candidates []struct {
		ID        string `json:"id"`
		AccessKey string `json:"accesskey"`
		Duration  int64  `json:"duration"` // ms
	} `json:"candidates"`
}

type kugouDownloadResponse struct {
	Status  int    `json:"status"`
	Content string `json:"content"` // base64 lrc
}

func (k *KugouProvider) Fetch(ctx context.Context, q Query) (*models.LyricsDoc, error) {
	params := url.Values{}
	params.Set("ver", "1")
	params.Set("man", "yes")
	params.Set("client", "pc")
	params.Set("keyword", q.Artist+" - "+q.Title)
	if q.DurationMs != nil {
		params.Set("duration", fmt.Sprintf("%d", *q.DurationMs))
	}

	var search kugouSearchResponse
	if err := k.getJSON(ctx, k.searchURL+"?"+params.Encode(), &search); err != nil {
		return nil, err
	}
	if len(search.Candidates) == 0 {
		return nil, ErrNotFound
	}
	best := search.Candidates[0]

	dl := url.Values{}
	dl.Set("ver", "1")
	dl.Set("client", "pc")
	dl.Set("id", best.ID)
	dl.Set("accesskey", best.AccessKey)
	dl.Set("fmt", "lrc")
	dl.Set("charset", "utf8")

	var payload kugouDownloadResponse
	if err := k.getJSON(ctx, k.lyricURL+"?"+dl.Encode(), &payload); err != nil {
		return nil, err
	}
	if payload.Status != 200 || payload.Content == "" {
		return nil, ErrNotFound
	}

	raw, err := base64.StdEncoding.DecodeString(payload.Content)
	if err != nil {
		return nil, fmt.Errorf("decoding kugou lyric body: %w", err)
	}

	doc := ParseLRC(string(raw), k.ID())
	if !doc.HasText() {
		return nil, ErrNotFound
	}
	doc.FetchedAt = time.Now()
	return &doc, nil
}

func (k *KugouProvider) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "lyrebird/1.0")

	resp, err := k.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kugou status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
