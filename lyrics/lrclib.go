package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lyrebird-fm/lyrebird/metadata"
	"github.com/lyrebird-fm/lyrebird/models"
)

const lrclibBaseURL = "https://lrclib.net/api"

// LRCLibProvider queries the open LRC database at lrclib.net. It often has
// line-synced lyrics and needs no API key.
type LRCLibProvider struct {
	client  *http.Client
	baseURL string
}

func NewLRCLibProvider() *LRCLibProvider {
	return &LRCLibProvider{client: httpClient, baseURL: lrclibBaseURL}
}

func (l *LRCLibProvider) ID() models.ProviderID { return "lrclib" }

type lrclibTrack struct {
	ID           int     `json:"id"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"` // seconds
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

func (l *LRCLibProvider) Fetch(ctx context.Context, q Query) (*models.LyricsDoc, error) {
	// The exact-match endpoint first; search as fallback.
	if track, err := l.get(ctx, q); err == nil && track != nil {
		if doc := l.toDoc(track); doc != nil {
			return doc, nil
		}
	}

	results, err := l.search(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}

	best := pickBest(results, q)
	doc := l.toDoc(best)
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (l *LRCLibProvider) get(ctx context.Context, q Query) (*lrclibTrack, error) {
	params := url.Values{}
	params.Set("track_name", q.Title)
	params.Set("artist_name", q.Artist)
	if q.Album != "" {
		params.Set("album_name", q.Album)
	}
	if q.DurationMs != nil {
		params.Set("duration", fmt.Sprintf("%d", *q.DurationMs/1000))
	}

	var track lrclibTrack
	if err := l.getJSON(ctx, l.baseURL+"/get?"+params.Encode(), &track); err != nil {
		return nil, err
	}
	if track.PlainLyrics == "" && track.SyncedLyrics == "" && !track.Instrumental {
		return nil, ErrNotFound
	}
	return &track, nil
}

func (l *LRCLibProvider) search(ctx context.Context, q Query) ([]lrclibTrack, error) {
	params := url.Values{}
	params.Set("track_name", q.Title)
	params.Set("artist_name", q.Artist)

	var results []lrclibTrack
	if err := l.getJSON(ctx, l.baseURL+"/search?"+params.Encode(), &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (l *LRCLibProvider) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "lyrebird/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("lrclib status %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (l *LRCLibProvider) toDoc(track *lrclibTrack) *models.LyricsDoc {
	if track == nil {
		return nil
	}
	if track.Instrumental {
		doc := models.LyricsDoc{Kind: models.LyricsInstrumental, ProviderID: l.ID(), FetchedAt: time.Now()}
		return &doc
	}
	if track.SyncedLyrics != "" {
		doc := ParseLRC(track.SyncedLyrics, l.ID())
		if doc.HasText() {
			doc.FetchedAt = time.Now()
			return &doc
		}
	}
	if track.PlainLyrics != "" {
		doc := ParsePlain(track.PlainLyrics, l.ID())
		if doc.HasText() {
			doc.FetchedAt = time.Now()
			return &doc
		}
	}
	return nil
}

func pickBest(results []lrclibTrack, q Query) *lrclibTrack {
	bestIdx := -1
	bestScore := -1
	for i, r := range results {
		score := 0
		if equalFoldTrim(r.ArtistName, q.Artist) {
			score += 3
		}
		if equalFoldTrim(r.TrackName, q.Title) {
			score += 3
		}
		if r.SyncedLyrics != "" {
			score += 2
		}
		if r.PlainLyrics != "" {
			score++
		}
		if q.DurationMs != nil && r.Duration > 0 {
			diff := r.Duration - float64(*q.DurationMs)/1000
			if diff < 0 {
				diff = -diff
			}
			if diff <= 3 {
				score += 2
			}
		}
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return &results[0]
	}
	return &results[bestIdx]
}

func equalFoldTrim(a, b string) bool {
	return a != "" && b != "" && metadata.Normalize(a) == metadata.Normalize(b)
}
