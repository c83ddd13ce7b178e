// Package bridge accepts websocket connections from the Spicetify browser
// extension and exposes them to the rest of the process as one playback
// source. The extension pushes position samples and track data; the hub
// extrapolates between samples with the wall clock.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lyrebird-fm/lyrebird/metadata"
	"github.com/lyrebird-fm/lyrebird/models"
	"github.com/lyrebird-fm/lyrebird/source"
)

const (
	// SourceName identifies the bridge in the source registry.
	SourceName = models.SourceID("spicetify")

	pingInterval  = 20 * time.Second
	pongWait      = 30 * time.Second
	writeWait     = 10 * time.Second
	sendQueueSize = 16
)

// ErrNoConnection is returned when a control command arrives with no
// extension connected.
var ErrNoConnection = errors.New("bridge: no extension connected")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The bridge binds to loopback; the extension connects from the
	// Spotify client's embedded browser, which sends no usable origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	// done signals writePump to exit. send is never closed: enqueue and
	// Control may race a disconnect, and a send on a closed channel panics.
	done chan struct{}
	hub  *Hub
}

// Hub is the bridge endpoint and its source.Source face. Multiple
// extension connections are tolerated; the most recent one receives
// control commands and all of them feed playback state.
type Hub struct {
	logger        *log.Logger
	pausedTimeout time.Duration

	mu       sync.Mutex
	conns    map[string]*conn
	active   *conn
	track    *trackPayload
	position int64
	playing  bool
	sampleAt time.Time // wall clock of the last position sample
	lastSeen time.Time // wall clock of the last message of any kind
}

// New builds a hub. pausedTimeout bounds how long stale state is served
// after the extension goes quiet; zero selects the default.
func New(pausedTimeout time.Duration) *Hub {
	if pausedTimeout <= 0 {
		pausedTimeout = 10 * time.Second
	}
	return &Hub{
		logger:        log.New(os.Stdout, "bridge: ", log.LstdFlags|log.Lmsgprefix),
		pausedTimeout: pausedTimeout,
		conns:         make(map[string]*conn),
	}
}

// ServeWS upgrades one extension connection and runs its pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrading connection: %v", err)
		return
	}

	c := &conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
		hub:  h,
	}

	h.mu.Lock()
	h.conns[c.id] = c
	h.active = c
	h.lastSeen = time.Now()
	h.mu.Unlock()
	h.logger.Printf("extension connected (%s)", c.id)

	go c.writePump()
	go c.readPump()

	// A fresh connection may be mid-track: ask for everything once.
	c.enqueue(msgRequestTrackData, nil)
	c.enqueue(msgRequestState, nil)
}

func (h *Hub) drop(c *conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; ok {
		delete(h.conns, c.id)
		close(c.done)
		if h.active == c {
			h.active = nil
			for _, other := range h.conns {
				h.active = other
			}
		}
	}
	h.mu.Unlock()
	h.logger.Printf("extension disconnected (%s)", c.id)
}

// Connected reports whether any extension connection is open.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns) > 0
}

func (c *conn) enqueue(typ string, data any) {
	raw, err := marshalEnvelope(typ, data)
	if err != nil {
		c.hub.logger.Printf("encoding %s: %v", typ, err)
		return
	}
	select {
	case <-c.done:
		// Disconnected while the frame was being built.
	case c.send <- raw:
	default:
		// Slow extension: drop the frame rather than the connection's
		// position feed.
	}
}

func (c *conn) readPump() {
	defer func() {
		c.hub.drop(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(64 << 10)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Printf("read error (%s): %v", c.id, err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.hub.logger.Printf("bad frame (%s): %v", c.id, err)
			continue
		}
		c.hub.handle(c, env)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.enqueue(msgPing, nil)
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

// handle routes one inbound frame.
func (h *Hub) handle(c *conn, env Envelope) {
	h.mu.Lock()
	h.lastSeen = time.Now()
	h.mu.Unlock()

	switch env.Type {
	case msgPosition:
		var p positionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.logger.Printf("bad position payload: %v", err)
			return
		}
		h.mu.Lock()
		h.position = p.PositionMs
		h.playing = p.IsPlaying
		h.sampleAt = time.Now()
		h.mu.Unlock()

	case msgTrackData:
		var t trackPayload
		if err := json.Unmarshal(env.Data, &t); err != nil {
			h.logger.Printf("bad track payload: %v", err)
			return
		}
		h.mu.Lock()
		h.track = &t
		h.mu.Unlock()

	case msgPong:
		// lastSeen already refreshed above.

	case msgControlAck:
		var ack ackPayload
		if err := json.Unmarshal(env.Data, &ack); err == nil && !ack.OK {
			h.logger.Printf("control %s rejected by extension: %s", ack.Action, ack.Error)
		}

	case msgShutdown:
		// The extension has no authority over this process's lifecycle.
		h.logger.Printf("ignoring shutdown request from extension (%s)", c.id)

	default:
		h.logger.Printf("unknown frame type %q from %s", env.Type, c.id)
	}
}

// Name implements source.Source.
func (h *Hub) Name() models.SourceID { return SourceName }

// Start implements source.Source. Connections drive the hub; nothing to
// spin up.
func (h *Hub) Start(ctx context.Context) error { return nil }

// Stop closes every open connection.
func (h *Hub) Stop() error {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(2*time.Second))
		c.ws.Close()
	}
	return nil
}

// Snapshot implements source.Source: the last reported state with the
// position extrapolated by wall clock while playing, clamped to the track
// duration. After the extension goes quiet past the paused timeout the
// hub reports nothing.
func (h *Hub) Snapshot(ctx context.Context) (*models.PlaybackSnapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.track == nil || h.track.Title == "" {
		return nil, nil
	}
	if len(h.conns) == 0 && time.Since(h.lastSeen) > h.pausedTimeout {
		return nil, nil
	}

	now := time.Now()
	pos := h.position
	if h.playing && !h.sampleAt.IsZero() {
		pos += now.Sub(h.sampleAt).Milliseconds()
	}
	if d := h.track.DurationMs; d != nil && pos > *d {
		pos = *d
	}
	if pos < 0 {
		pos = 0
	}

	artist := ""
	if len(h.track.Artists) > 0 {
		artist = h.track.Artists[0]
	}

	snap := &models.PlaybackSnapshot{
		SourceID:    SourceName,
		SampledAt:   now,
		TrackKey:    metadata.DeriveTrackKey(h.track.TrackID, artist, h.track.Title),
		Title:       h.track.Title,
		Artist:      artist,
		Artists:     append([]string(nil), h.track.Artists...),
		Album:       h.track.Album,
		AlbumArtURI: h.track.AlbumArtURL,
		DurationMs:  h.track.DurationMs,
		PositionMs:  &pos,
		IsPlaying:   h.playing,
		Liked:       h.track.Liked,
		Shuffle:     h.track.Shuffle,
		Repeat:      h.track.Repeat,
		Volume:      h.track.Volume,
		Provenance:  map[string]string{"app_id": "spicetify"},
	}
	if len(h.track.Colors) > 0 {
		snap.Extra = map[string]any{"colors": h.track.Colors}
	}
	return snap, nil
}

// Capabilities implements source.Source. The extension drives the full
// Spotify client, so everything is on the table.
func (h *Hub) Capabilities() []source.Capability {
	return []source.Capability{
		source.CapPlayPause, source.CapNext, source.CapPrevious,
		source.CapSeek, source.CapVolume, source.CapShuffle,
		source.CapRepeat, source.CapLike, source.CapQueue,
	}
}

// Control forwards a command to the most recent extension connection.
func (h *Hub) Control(ctx context.Context, cmd source.Command) error {
	h.mu.Lock()
	c := h.active
	h.mu.Unlock()
	if c == nil {
		return ErrNoConnection
	}

	raw, err := marshalEnvelope(msgControl, cmd)
	if err != nil {
		return fmt.Errorf("encoding control: %w", err)
	}
	select {
	case <-c.done:
		return ErrNoConnection
	case c.send <- raw:
		return nil
	default:
		return fmt.Errorf("bridge: send queue full for %s", c.id)
	}
}
