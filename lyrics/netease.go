package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lyrebird-fm/lyrebird/models"
)

const neteaseBaseURL = "https://music.163.com/api"

// NetEaseProvider queries the NetEase Cloud Music lyric database, one of
// the timing databases that frequently carries karaoke-grade LRC.
type NetEaseProvider struct {
	client  *http.Client
	baseURL string
}

func NewNetEaseProvider() *NetEaseProvider {
	return &NetEaseProvider{client: httpClient, baseURL: neteaseBaseURL}
}

func (n *NetEaseProvider) ID() models.ProviderID { return "netease" }

type neteaseSearchResponse struct {
	Result struct {
		Songs []struct {
			ID      int64  `json:"id"`
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
			Duration int64 `json:"duration"` // ms
		} `json:"songs"`
	} `json:"result"`
}

type neteaseLyricResponse struct {
	Lrc struct {
		Lyric string `json:"lyric"`
	} `json:"lrc"`
	Klyric struct {
		Lyric string `json:"lyric"`
	} `json:"klyric"`
	Nolyric      bool `json:"nolyric"`
	Uncollected  bool `json:"uncollected"`
	Instrumental bool `json:"pureMusic"`
}

func (n *NetEaseProvider) Fetch(ctx context.Context, q Query) (*models.LyricsDoc, error) {
	songID, err := n.search(ctx, q)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/song/lyric?id=%d&lv=1&kv=1", n.baseURL, songID)
	var payload neteaseLyricResponse
	if err := n.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}

	if payload.Instrumental || payload.Nolyric {
		doc := models.LyricsDoc{Kind: models.LyricsInstrumental, ProviderID: n.ID(), FetchedAt: time.Now()}
		return &doc, nil
	}
	if payload.Uncollected || payload.Lrc.Lyric == "" {
		return nil, ErrNotFound
	}

	// Karaoke lyric body uses word tags; prefer it when present.
	body := payload.Lrc.Lyric
	if payload.Klyric.Lyric != "" {
		body = payload.Klyric.Lyric
	}
	doc := ParseLRC(body, n.ID())
	if !doc.HasText() {
		return nil, ErrNotFound
	}
	doc.FetchedAt = time.Now()
	return &doc, nil
}

func (n *NetEaseProvider) search(ctx context.Context, q Query) (int64, error) {
	params := url.Values{}
	params.Set("s", q.Artist+" "+q.Title)
	params.Set("type", "1")
	params.Set("limit", "5")

	var payload neteaseSearchResponse
	if err := n.getJSON(ctx, n.baseURL+"/search/get?"+params.Encode(), &payload); err != nil {
		return 0, err
	}
	songs := payload.Result.Songs
	if len(songs) == 0 {
		return 0, ErrNotFound
	}

	// Prefer a duration match when the caller knows one.
	if q.DurationMs != nil {
		for _, s := range songs {
			diff := s.Duration - *q.DurationMs
			if diff < 0 {
				diff = -diff
			}
			if diff <= 3000 {
				return s.ID, nil
			}
		}
	}
	return songs[0].ID, nil
}

func (n *NetEaseProvider) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Referer", "https://music.163.com")
	req.Header.Set("User-Agent", "lyrebird/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("netease status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
