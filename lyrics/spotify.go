package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lyrebird-fm/lyrebird/models"
)

const spotifyLyricsURL = "https://spclient.wg.spotify.com/color-lyrics/v2/track/%s?format=json&market=from_token"

// TokenFunc hands the provider a live access token, or an error when the
// streaming account is not linked. Token refresh lives with the source.
type TokenFunc func(ctx context.Context) (string, error)

// SpotifyProvider reads the streaming service's internal lyrics endpoint.
// It only works with a service-native track id and a valid token; without
// either it reports not found rather than erroring.
type SpotifyProvider struct {
	client  *http.Client
	token   TokenFunc
	baseURL string
}

func NewSpotifyProvider(token TokenFunc) *SpotifyProvider {
	return &SpotifyProvider{client: httpClient, token: token, baseURL: spotifyLyricsURL}
}

func (s *SpotifyProvider) ID() models.ProviderID { return "spotify" }

type spotifyLyricsResponse struct {
	Lyrics struct {
		SyncType string `json:"syncType"` // "LINE_SYNCED", "SYLLABLE_SYNCED", "UNSYNCED"
		Lines    []struct {
			StartTimeMs string `json:"startTimeMs"`
			Words       string `json:"words"`
			Syllables   []struct {
				StartTimeMs string `json:"startTimeMs"`
				Text        string `json:"text"`
			} `json:"syllables"`
		} `json:"lines"`
	} `json:"lyrics"`
}

func (s *SpotifyProvider) Fetch(ctx context.Context, q Query) (*models.LyricsDoc, error) {
	if q.ServiceID == "" {
		return nil, ErrNotFound
	}
	token, err := s.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("spotify lyrics token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf(s.baseURL, q.ServiceID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("App-Platform", "WebPlayer")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("spotify lyrics status %d: %s", resp.StatusCode, body)
	}

	var payload spotifyLyricsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding spotify lyrics: %w", err)
	}
	if len(payload.Lyrics.Lines) == 0 {
		return nil, ErrNotFound
	}

	doc := models.LyricsDoc{ProviderID: s.ID(), FetchedAt: time.Now()}
	wordSynced := payload.Lyrics.SyncType == "SYLLABLE_SYNCED"

	for _, line := range payload.Lyrics.Lines {
		l := models.LyricLine{
			TimeMs: int64(atoiSafe(line.StartTimeMs)),
			Text:   line.Words,
		}
		if wordSynced {
			l.Words = make([]models.LyricWord, 0, len(line.Syllables))
			for _, syl := range line.Syllables {
				l.Words = append(l.Words, models.LyricWord{
					TimeMs: int64(atoiSafe(syl.StartTimeMs)),
					Word:   syl.Text,
				})
			}
		}
		doc.Lines = append(doc.Lines, l)
	}

	switch payload.Lyrics.SyncType {
	case "SYLLABLE_SYNCED":
		doc.Kind = models.LyricsWordSynced
	case "LINE_SYNCED":
		doc.Kind = models.LyricsSynced
	default:
		doc.Kind = models.LyricsUnsynced
	}
	doc.SortLines()
	return &doc, nil
}
