// Package source defines the playback-source contract and the registry
// that polls every enabled source into the fuser's snapshot channel.
package source

import (
	"context"

	"github.com/lyrebird-fm/lyrebird/models"
)

// Capability names a control operation a source can carry out.
type Capability string

const (
	CapPlayPause Capability = "play_pause"
	CapNext      Capability = "next"
	CapPrevious  Capability = "previous"
	CapSeek      Capability = "seek"
	CapVolume    Capability = "volume"
	CapShuffle   Capability = "shuffle"
	CapRepeat    Capability = "repeat"
	CapLike      Capability = "like"
	CapQueue     Capability = "queue"
)

// Action identifies a control command.
type Action string

const (
	ActionPlay       Action = "play"
	ActionPause      Action = "pause"
	ActionTogglePlay Action = "toggle_play"
	ActionNext       Action = "skip_next"
	ActionPrevious   Action = "skip_prev"
	ActionSeek       Action = "seek"
	ActionSeekBy     Action = "seek_by"
	ActionPlayURI    Action = "play_uri"
	ActionSetVolume  Action = "set_volume"
	ActionVolumeUp   Action = "increase_volume"
	ActionVolumeDown Action = "decrease_volume"
	ActionSetMute    Action = "set_mute"
	ActionToggleMute Action = "toggle_mute"
	ActionSetShuffle Action = "set_shuffle"
	ActionToggleShuf Action = "toggle_shuffle"
	ActionSetRepeat  Action = "set_repeat"
	ActionToggleRep  Action = "toggle_repeat"
	ActionSetHeart   Action = "set_heart"
	ActionToggleHrt  Action = "toggle_heart"
	ActionQueueAdd   Action = "add_to_queue"
	ActionQueueClear Action = "clear_queue"
	ActionQueueGet   Action = "get_queue"
)

// Command is one control request dispatched to a source.
type Command struct {
	Action  Action `json:"action"`
	Ms      int64  `json:"ms,omitempty"`      // seek target or delta
	Level   int    `json:"level,omitempty"`   // volume 0..100
	Mode    int    `json:"mode,omitempty"`    // repeat 0, 1, 2
	Flag    bool   `json:"flag,omitempty"`    // shuffle / mute / heart value
	URI     string `json:"uri,omitempty"`     // play_uri, add_to_queue
	TrackID string `json:"trackId,omitempty"` // like target
}

// QueueItem is one upcoming track from a queue-capable source.
type QueueItem struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	URI    string `json:"uri,omitempty"`
}

// Source is one polymorphic provider of playback snapshots: the streaming
// service API, the Music Assistant endpoint, the browser bridge.
type Source interface {
	Name() models.SourceID
	Start(ctx context.Context) error
	Stop() error
	// Snapshot returns the current sample, or nil when the source is not
	// reporting anything right now.
	Snapshot(ctx context.Context) (*models.PlaybackSnapshot, error)
	Capabilities() []Capability
	Control(ctx context.Context, cmd Command) error
}

// QueueReader is implemented by sources that can expose their play queue.
type QueueReader interface {
	Queue(ctx context.Context) ([]QueueItem, error)
}
