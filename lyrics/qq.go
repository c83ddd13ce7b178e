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

// QQProvider queries the QQ Music lyric service, the third timing database.
type QQProvider struct {
	client    *http.Client
	searchURL string
	lyricURL  string
}

func NewQQProvider() *QQProvider {
	return &QQProvider{
		client:    httpClient,
		searchURL: "https://c.y.qq.com/soso/fcgi-bin/client_search_cp",
		lyricURL:  "https://c.y.qq.com/lyric/fcgi-bin/fcg_query_lyric_new.fcg",
	}
}

func (p *QQProvider) ID() models.ProviderID { return "qqmusic" }

type qqSearchResponse struct {
	Data struct {
		Song struct {
			List []struct {
				SongMid  string `json:"songmid"`
				Interval int64  `json:"interval"` // seconds
			} `json:"list"`
		} `json:"song"`
	} `json:"data"`
}

type qqLyricResponse struct {
	Code  int    `json:"code"`
	Lyric string `json:"lyric"` // base64 lrc
}

func (p *QQProvider) Fetch(ctx context.Context, q Query) (*models.LyricsDoc, error) {
	params := url.Values{}
	params.Set("w", q.Artist+" "+q.Title)
	params.Set("format", "json")
	params.Set("n", "5")

	var search qqSearchResponse
	if err := p.getJSON(ctx, p.searchURL+"?"+params.Encode(), &search); err != nil {
		return nil, err
	}
	list := search.Data.Song.List
	if len(list) == 0 {
		return nil, ErrNotFound
	}

	mid := list[0].SongMid
	if q.DurationMs != nil {
		for _, s := range list {
			diff := s.Interval*1000 - *q.DurationMs
			if diff < 0 {
				diff = -diff
			}
			if diff <= 3000 {
				mid = s.SongMid
				break
			}
		}
	}

	lp := url.Values{}
	lp.Set("songmid", mid)
	lp.Set("format", "json")
	lp.Set("nobase64", "0")

	var payload qqLyricResponse
	if err := p.getJSON(ctx, p.lyricURL+"?"+lp.Encode(), &payload); err != nil {
		return nil, err
	}
	if payload.Code != 0 || payload.Lyric == "" {
		return nil, ErrNotFound
	}

	raw, err := base64.StdEncoding.DecodeString(payload.Lyric)
	if err != nil {
		return nil, fmt.Errorf("decoding qq lyric body: %w", err)
	}

	doc := ParseLRC(string(raw), p.ID())
	if !doc.HasText() {
		return nil, ErrNotFound
	}
	doc.FetchedAt = time.Now()
	return &doc, nil
}

func (p *QQProvider) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Referer", "https://y.qq.com")
	req.Header.Set("User-Agent", "lyrebird/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qq music status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
