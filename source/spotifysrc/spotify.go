// Package spotifysrc polls the Spotify Web API for the linked account's
// playback state and drives it with the player endpoints. Tokens are
// refreshed through oauth2 and persisted so a restart does not need a new
// authorization.
package spotifysrc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/oauth2"

	"github.com/lyrebird-fm/lyrebird/metadata"
	"github.com/lyrebird-fm/lyrebird/models"
	"github.com/lyrebird-fm/lyrebird/source"
)

const (
	apiBaseURL = "https://api.spotify.com/v1"

	authURL  = "https://accounts.spotify.com/authorize"
	tokenURL = "https://accounts.spotify.com/api/token"
)

// SourceName identifies this source in the registry.
const SourceName = models.SourceID("spotify")

// Source is the Spotify Web API playback source for one linked account.
type Source struct {
	logger    *log.Logger
	baseURL   string
	client    *http.Client
	tokens    oauth2.TokenSource
	tokenPath string

	mu          sync.Mutex
	lastPlaying bool
	lastTrackID string
	lastLiked   *bool
}

// New wires the source with an oauth2 refresh flow. A token previously
// written to dataRoot/token.json is picked up; otherwise refreshToken
// seeds the flow.
func New(clientID, clientSecret, refreshToken, dataRoot string) (*Source, error) {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
	}

	s := &Source{
		logger:    log.New(os.Stdout, "spotify: ", log.LstdFlags|log.Lmsgprefix),
		baseURL:   apiBaseURL,
		tokenPath: filepath.Join(dataRoot, "token.json"),
	}

	tok := s.loadToken()
	if tok == nil {
		if refreshToken == "" {
			return nil, fmt.Errorf("spotify: no stored token and no refresh token configured")
		}
		tok = &oauth2.Token{RefreshToken: refreshToken}
	}

	base := cfg.TokenSource(context.Background(), tok)
	s.tokens = oauth2.ReuseTokenSource(tok, &persistingSource{src: base, source: s})
	s.client = oauth2.NewClient(context.Background(), s.tokens)
	s.client.Timeout = 15 * time.Second
	return s, nil
}

// persistingSource writes every refreshed token to disk.
type persistingSource struct {
	src    oauth2.TokenSource
	source *Source
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	p.source.saveToken(tok)
	return tok, nil
}

func (s *Source) loadToken() *oauth2.Token {
	blob, err := os.ReadFile(s.tokenPath)
	if err != nil {
		return nil
	}
	var tok oauth2.Token
	if err := json.Unmarshal(blob, &tok); err != nil {
		s.logger.Printf("discarding unreadable token file: %v", err)
		return nil
	}
	return &tok
}

func (s *Source) saveToken(tok *oauth2.Token) {
	blob, err := json.Marshal(tok)
	if err != nil {
		return
	}
	// The token grants account access; keep it owner-readable only.
	if err := renameio.WriteFile(s.tokenPath, blob, 0o600); err != nil {
		s.logger.Printf("persisting token: %v", err)
	}
}

// Token exposes a live access token for the lyrics and art providers that
// reuse the linked account.
func (s *Source) Token(ctx context.Context) (string, error) {
	tok, err := s.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("refreshing spotify token: %w", err)
	}
	return tok.AccessToken, nil
}

func (s *Source) Name() models.SourceID { return SourceName }

func (s *Source) Start(ctx context.Context) error {
	// Fail fast on a dead refresh token rather than at the first poll.
	_, err := s.Token(ctx)
	return err
}

func (s *Source) Stop() error { return nil }

type currentlyPlayingResponse struct {
	IsPlaying  bool  `json:"is_playing"`
	ProgressMs int64 `json:"progress_ms"`
	Device     struct {
		VolumePercent *int `json:"volume_percent"`
	} `json:"device"`
	ShuffleState bool   `json:"shuffle_state"`
	RepeatState  string `json:"repeat_state"` // "off", "context", "track"
	Item         *struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Artists []struct {
			Name string `json:"name"`
		} `json:"artists"`
		Album struct {
			Name   string `json:"name"`
			Images []struct {
				URL    string `json:"url"`
				Width  int    `json:"width"`
				Height int    `json:"height"`
			} `json:"images"`
		} `json:"album"`
		DurationMs int64 `json:"duration_ms"`
	} `json:"item"`
}

func (s *Source) Snapshot(ctx context.Context) (*models.PlaybackSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/me/player?additional_types=track", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching player state: %w", err)
	}
	defer resp.Body.Close()

	// 204 means no active device.
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("player state status %d: %s", resp.StatusCode, body)
	}

	var payload currentlyPlayingResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding player state: %w", err)
	}
	if payload.Item == nil {
		return nil, nil
	}

	artists := make([]string, 0, len(payload.Item.Artists))
	for _, a := range payload.Item.Artists {
		artists = append(artists, a.Name)
	}
	artist := ""
	if len(artists) > 0 {
		artist = artists[0]
	}

	artURI := ""
	best := 0
	for _, img := range payload.Item.Album.Images {
		if img.Width > best {
			best, artURI = img.Width, img.URL
		}
	}

	now := time.Now()
	pos := payload.ProgressMs
	dur := payload.Item.DurationMs
	shuffle := payload.ShuffleState
	repeat := repeatMode(payload.RepeatState)
	liked := s.likedFor(ctx, payload.Item.ID)

	s.mu.Lock()
	s.lastPlaying = payload.IsPlaying
	s.mu.Unlock()

	snap := &models.PlaybackSnapshot{
		SourceID:    SourceName,
		SampledAt:   now,
		TrackKey:    metadata.DeriveTrackKey(payload.Item.ID, artist, payload.Item.Name),
		Title:       payload.Item.Name,
		Artist:      artist,
		Artists:     artists,
		Album:       payload.Item.Album.Name,
		AlbumArtURI: artURI,
		DurationMs:  &dur,
		PositionMs:  &pos,
		IsPlaying:   payload.IsPlaying,
		Liked:       liked,
		Shuffle:     &shuffle,
		Repeat:      &repeat,
		Volume:      payload.Device.VolumePercent,
		Provenance:  map[string]string{"app_id": "spotify", "track_id": payload.Item.ID},
	}
	return snap, nil
}

// likedFor checks the saved-tracks state, re-querying only when the track
// changes.
func (s *Source) likedFor(ctx context.Context, trackID string) *bool {
	s.mu.Lock()
	if trackID == s.lastTrackID && s.lastLiked != nil {
		cached := *s.lastLiked
		s.mu.Unlock()
		return &cached
	}
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/me/tracks/contains?ids="+url.QueryEscape(trackID), nil)
	if err != nil {
		return nil
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	var flags []bool
	if err := json.NewDecoder(resp.Body).Decode(&flags); err != nil || len(flags) == 0 {
		return nil
	}

	s.mu.Lock()
	s.lastTrackID = trackID
	s.lastLiked = &flags[0]
	s.mu.Unlock()
	return &flags[0]
}

func (s *Source) Capabilities() []source.Capability {
	return []source.Capability{
		source.CapPlayPause, source.CapNext, source.CapPrevious,
		source.CapSeek, source.CapVolume, source.CapShuffle,
		source.CapRepeat, source.CapLike, source.CapQueue,
	}
}

func (s *Source) Control(ctx context.Context, cmd source.Command) error {
	switch cmd.Action {
	case source.ActionPlay:
		return s.call(ctx, "PUT", "/me/player/play", nil)
	case source.ActionPause:
		return s.call(ctx, "PUT", "/me/player/pause", nil)
	case source.ActionTogglePlay:
		s.mu.Lock()
		playing := s.lastPlaying
		s.mu.Unlock()
		if playing {
			return s.call(ctx, "PUT", "/me/player/pause", nil)
		}
		return s.call(ctx, "PUT", "/me/player/play", nil)
	case source.ActionNext:
		return s.call(ctx, "POST", "/me/player/next", nil)
	case source.ActionPrevious:
		return s.call(ctx, "POST", "/me/player/previous", nil)
	case source.ActionSeek:
		return s.call(ctx, "PUT", "/me/player/seek", url.Values{"position_ms": {strconv.FormatInt(cmd.Ms, 10)}})
	case source.ActionSetVolume:
		return s.call(ctx, "PUT", "/me/player/volume", url.Values{"volume_percent": {strconv.Itoa(cmd.Level)}})
	case source.ActionSetShuffle, source.ActionToggleShuf:
		return s.call(ctx, "PUT", "/me/player/shuffle", url.Values{"state": {strconv.FormatBool(cmd.Flag)}})
	case source.ActionSetRepeat, source.ActionToggleRep:
		return s.call(ctx, "PUT", "/me/player/repeat", url.Values{"state": {repeatState(cmd.Mode)}})
	case source.ActionSetHeart, source.ActionToggleHrt:
		return s.setLiked(ctx, cmd.TrackID, cmd.Flag)
	case source.ActionPlayURI:
		return s.playURI(ctx, cmd.URI)
	case source.ActionQueueAdd:
		return s.call(ctx, "POST", "/me/player/queue", url.Values{"uri": {cmd.URI}})
	default:
		return fmt.Errorf("spotify: unsupported action %q", cmd.Action)
	}
}

func (s *Source) setLiked(ctx context.Context, trackID string, liked bool) error {
	if trackID == "" {
		s.mu.Lock()
		trackID = s.lastTrackID
		s.mu.Unlock()
	}
	if trackID == "" {
		return fmt.Errorf("spotify: no track to like")
	}
	method := "PUT"
	if !liked {
		method = "DELETE"
	}
	if err := s.call(ctx, method, "/me/tracks", url.Values{"ids": {trackID}}); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastLiked = &liked
	s.mu.Unlock()
	return nil
}

func (s *Source) playURI(ctx context.Context, uri string) error {
	body := fmt.Sprintf(`{"uris":[%q]}`, uri)
	req, err := http.NewRequestWithContext(ctx, "PUT", s.baseURL+"/me/player/play", strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

type queueResponse struct {
	Queue []struct {
		Name    string `json:"name"`
		URI     string `json:"uri"`
		Artists []struct {
			Name string `json:"name"`
		} `json:"artists"`
	} `json:"queue"`
}

// Queue implements source.QueueReader.
func (s *Source) Queue(ctx context.Context) ([]source.QueueItem, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/me/player/queue", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("queue status %d", resp.StatusCode)
	}

	var payload queueResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding queue: %w", err)
	}

	items := make([]source.QueueItem, 0, len(payload.Queue))
	for _, q := range payload.Queue {
		artist := ""
		if len(q.Artists) > 0 {
			artist = q.Artists[0].Name
		}
		items = append(items, source.QueueItem{Title: q.Name, Artist: artist, URI: q.URI})
	}
	return items, nil
}

func (s *Source) call(ctx context.Context, method, path string, params url.Values) error {
	endpoint := s.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	return s.do(req)
}

func (s *Source) do(req *http.Request) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("spotify %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, body)
	}
	return nil
}

func repeatMode(state string) int {
	switch state {
	case "context":
		return 1
	case "track":
		return 2
	default:
		return 0
	}
}

func repeatState(mode int) string {
	switch mode {
	case 1:
		return "context"
	case 2:
		return "track"
	default:
		return "off"
	}
}
