package bridge

import (
	"encoding/json"

	"github.com/lyrebird-fm/lyrebird/source"
)

// Envelope is the wire frame both directions: a type tag plus a payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound message types, sent by the browser extension.
const (
	msgPosition   = "position"
	msgTrackData  = "track_data"
	msgPong       = "pong"
	msgControlAck = "control_ack"
	msgShutdown   = "shutdown"
)

// Outbound message types, sent to the extension.
const (
	msgPing             = "ping"
	msgRequestState     = "request_state"
	msgRequestTrackData = "request_track_data"
	msgControl          = "control"
)

// positionPayload is the extension's ~1 Hz playback sample.
type positionPayload struct {
	PositionMs int64 `json:"positionMs"`
	IsPlaying  bool  `json:"isPlaying"`
	Timestamp  int64 `json:"timestamp,omitempty"` // extension wall clock, ms
}

// trackPayload is the full track description, sent on change and on
// request_track_data.
type trackPayload struct {
	TrackID     string            `json:"trackId"`
	Title       string            `json:"title"`
	Artists     []string          `json:"artists"`
	Album       string            `json:"album"`
	DurationMs  *int64            `json:"durationMs"`
	AlbumArtURL string            `json:"albumArtUrl,omitempty"`
	Liked       *bool             `json:"liked,omitempty"`
	Shuffle     *bool             `json:"shuffle,omitempty"`
	Repeat      *int              `json:"repeat,omitempty"`
	Volume      *int              `json:"volume,omitempty"`
	Colors      map[string]string `json:"colors,omitempty"` // extracted art palette, passed through
}

// ackPayload reports the outcome of a forwarded control command.
type ackPayload struct {
	Action source.Action `json:"action"`
	OK     bool          `json:"ok"`
	Error  string        `json:"error,omitempty"`
}

func marshalEnvelope(typ string, data any) ([]byte, error) {
	env := Envelope{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}
