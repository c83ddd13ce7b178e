package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/lyrebird-fm/lyrebird/models"
)

// ErrNoSuchSource is returned when a control command names an unknown source.
var ErrNoSuchSource = errors.New("source: no such source")

// ErrUnsupported is returned when a source lacks the capability a command
// needs.
var ErrUnsupported = errors.New("source: command not supported")

const (
	coolingBase = time.Second
	coolingMax  = 30 * time.Second
)

// Config carries the registry-level knobs for one registered source.
type Config struct {
	// Priority breaks ties between concurrently playing sources. Higher wins.
	Priority int
	// PausedTimeout is how long a candidate stays alive without a fresh
	// snapshot. Zero means sticky forever.
	PausedTimeout time.Duration
	// PollInterval defaults to one second. Push-capable sources keep it as
	// a slow safety net and call Push for the fast path.
	PollInterval time.Duration
	// Blocklist holds application identifiers whose snapshots are dropped
	// before they reach the fuser.
	Blocklist []string
}

// Registered pairs a source with its registry configuration.
type Registered struct {
	Source Source
	Config Config
}

// Diagnostic is the per-source health surface shown on /config.
type Diagnostic struct {
	SourceID     models.SourceID `json:"sourceId"`
	LastError    string          `json:"lastError,omitempty"`
	CoolingUntil time.Time       `json:"coolingUntil,omitempty"`
	Disabled     bool            `json:"disabled,omitempty"`
}

type sourceState struct {
	reg          Registered
	failures     int
	backoff      time.Duration
	coolingUntil time.Time
	lastError    string
}

// Registry drives every enabled source on its own ticker and funnels
// validated snapshots into one bounded channel for the fuser. A source that
// fails twice in a row cools down with exponential backoff instead of
// taking the process with it.
type Registry struct {
	logger *log.Logger

	mu      sync.RWMutex
	sources map[models.SourceID]*sourceState

	out chan models.PlaybackSnapshot

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry builds a registry with a bounded snapshot channel.
func NewRegistry() *Registry {
	return &Registry{
		logger:  log.New(os.Stdout, "source: ", log.LstdFlags|log.Lmsgprefix),
		sources: make(map[models.SourceID]*sourceState),
		out:     make(chan models.PlaybackSnapshot, 64),
	}
}

// Register adds a source before Start. Not safe after Start.
func (r *Registry) Register(src Source, cfg Config) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	r.sources[src.Name()] = &sourceState{reg: Registered{Source: src, Config: cfg}}
}

// Snapshots is the channel the fuser consumes.
func (r *Registry) Snapshots() <-chan models.PlaybackSnapshot {
	return r.out
}

// Configs returns the per-source fuser configuration (priority, timeout).
func (r *Registry) Configs() map[models.SourceID]Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[models.SourceID]Config, len(r.sources))
	for id, st := range r.sources {
		out[id] = st.reg.Config
	}
	return out
}

// Serve runs all source pollers until ctx is cancelled. Implements
// suture.Service.
func (r *Registry) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.mu.RLock()
	for _, st := range r.sources {
		if err := st.reg.Source.Start(ctx); err != nil {
			r.logger.Printf("source %s failed to start: %v", st.reg.Source.Name(), err)
			st.lastError = err.Error()
			continue
		}
		r.wg.Add(1)
		go r.poll(ctx, st)
	}
	r.mu.RUnlock()

	<-ctx.Done()
	r.wg.Wait()

	r.mu.RLock()
	for _, st := range r.sources {
		if err := st.reg.Source.Stop(); err != nil {
			r.logger.Printf("source %s stop: %v", st.reg.Source.Name(), err)
		}
	}
	r.mu.RUnlock()
	return ctx.Err()
}

func (r *Registry) poll(ctx context.Context, st *sourceState) {
	defer r.wg.Done()

	ticker := time.NewTicker(st.reg.Config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sampleOne(ctx, st)
		}
	}
}

func (r *Registry) sampleOne(ctx context.Context, st *sourceState) {
	r.mu.RLock()
	cooling := time.Now().Before(st.coolingUntil)
	r.mu.RUnlock()
	if cooling {
		return
	}

	snap, err := st.reg.Source.Snapshot(ctx)
	if err != nil {
		r.recordFailure(st, err)
		return
	}
	r.recordSuccess(st)

	if snap == nil {
		return
	}
	r.Push(*snap)
}

// Push validates, clamps and enqueues one snapshot. Push-capable sources
// (the browser bridge) call this directly for their 100 ms path.
func (r *Registry) Push(snap models.PlaybackSnapshot) {
	if err := snap.Validate(); err != nil {
		r.logger.Printf("dropping snapshot: %v", err)
		return
	}
	snap.Clamp()

	if r.blocked(snap) {
		return
	}
	if snap.SampledAt.IsZero() {
		snap.SampledAt = time.Now()
	}

	// Bounded channel, newest wins: on a full channel the oldest queued
	// snapshot is dropped to make room.
	select {
	case r.out <- snap:
		return
	default:
	}
	select {
	case <-r.out:
	default:
	}
	select {
	case r.out <- snap:
	default:
	}
}

func (r *Registry) blocked(snap models.PlaybackSnapshot) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.sources[snap.SourceID]
	if !ok {
		return false
	}
	app := snap.Provenance["app_id"]
	if app == "" {
		return false
	}
	for _, blocked := range st.reg.Config.Blocklist {
		if blocked == app {
			return true
		}
	}
	return false
}

func (r *Registry) recordFailure(st *sourceState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st.failures++
	st.lastError = err.Error()
	if st.failures < 2 {
		return
	}

	if st.backoff == 0 {
		st.backoff = coolingBase
	} else {
		st.backoff *= 2
		if st.backoff > coolingMax {
			st.backoff = coolingMax
		}
	}
	st.coolingUntil = time.Now().Add(st.backoff)
	r.logger.Printf("source %s cooling for %s after repeated errors: %v",
		st.reg.Source.Name(), st.backoff, err)
}

func (r *Registry) recordSuccess(st *sourceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st.failures = 0
	st.backoff = 0
	st.coolingUntil = time.Time{}
	st.lastError = ""
}

// Diagnostics reports per-source health for the /config surface.
func (r *Registry) Diagnostics() []Diagnostic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Diagnostic, 0, len(r.sources))
	for id, st := range r.sources {
		out = append(out, Diagnostic{
			SourceID:     id,
			LastError:    st.lastError,
			CoolingUntil: st.coolingUntil,
		})
	}
	return out
}

// Capabilities returns the capability set of one source.
func (r *Registry) Capabilities(id models.SourceID) ([]Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.sources[id]
	if !ok {
		return nil, ErrNoSuchSource
	}
	return st.reg.Source.Capabilities(), nil
}

// Control dispatches a command to a source after checking its capability
// set. Commands to the same source run in submission order because the
// source's own Control serializes them.
func (r *Registry) Control(ctx context.Context, id models.SourceID, cmd Command) error {
	r.mu.RLock()
	st, ok := r.sources[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSuchSource
	}

	if !commandAllowed(st.reg.Source.Capabilities(), cmd.Action) {
		return fmt.Errorf("%w: %s on %s", ErrUnsupported, cmd.Action, id)
	}
	return st.reg.Source.Control(ctx, cmd)
}

// Queue fetches the play queue from a queue-capable source.
func (r *Registry) Queue(ctx context.Context, id models.SourceID) ([]QueueItem, error) {
	r.mu.RLock()
	st, ok := r.sources[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNoSuchSource
	}
	qr, ok := st.reg.Source.(QueueReader)
	if !ok {
		return nil, fmt.Errorf("%w: queue on %s", ErrUnsupported, id)
	}
	return qr.Queue(ctx)
}

func commandAllowed(caps []Capability, action Action) bool {
	need := map[Action]Capability{
		ActionPlay: CapPlayPause, ActionPause: CapPlayPause, ActionTogglePlay: CapPlayPause,
		ActionPlayURI: CapPlayPause,
		ActionNext:    CapNext, ActionPrevious: CapPrevious,
		ActionSeek: CapSeek, ActionSeekBy: CapSeek,
		ActionSetVolume: CapVolume, ActionVolumeUp: CapVolume, ActionVolumeDown: CapVolume,
		ActionSetMute: CapVolume, ActionToggleMute: CapVolume,
		ActionSetShuffle: CapShuffle, ActionToggleShuf: CapShuffle,
		ActionSetRepeat: CapRepeat, ActionToggleRep: CapRepeat,
		ActionSetHeart: CapLike, ActionToggleHrt: CapLike,
		ActionQueueAdd: CapQueue, ActionQueueClear: CapQueue, ActionQueueGet: CapQueue,
	}
	want, ok := need[action]
	if !ok {
		return false
	}
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}
