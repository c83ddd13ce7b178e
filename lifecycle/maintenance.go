package lifecycle

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/lyrebird-fm/lyrebird/art"
	"github.com/lyrebird-fm/lyrebird/cache"
)

const (
	pruneInterval = 7 * 24 * time.Hour
	pruneMaxAge   = 90 * 24 * time.Hour
)

// Maintenance compacts the disk caches on startup and prunes stale
// artifacts on a weekly cadence.
type Maintenance struct {
	logger   *log.Logger
	dataRoot string
	store    *art.Store
}

func NewMaintenance(dataRoot string, store *art.Store) *Maintenance {
	return &Maintenance{
		logger:   log.New(os.Stdout, "maintenance: ", log.LstdFlags|log.Lmsgprefix),
		dataRoot: dataRoot,
		store:    store,
	}
}

// Serve implements suture.Service.
func (m *Maintenance) Serve(ctx context.Context) error {
	m.compactCaches()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	// One prune shortly after startup covers installs that never stay up
	// a full week.
	startup := time.NewTimer(time.Minute)
	defer startup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-startup.C:
			m.prune()
		case <-ticker.C:
			m.prune()
		}
	}
}

func (m *Maintenance) compactCaches() {
	for _, sub := range []string{"lyrics", "art-candidates"} {
		dir := filepath.Join(m.dataRoot, sub)
		meta, err := cache.Compact(dir)
		if err != nil {
			m.logger.Printf("compacting %s: %v", sub, err)
			continue
		}
		if meta.Removed > 0 {
			m.logger.Printf("compacted %s: %d entries kept, %d removed", sub, meta.Entries, meta.Removed)
		}
	}
}

func (m *Maintenance) prune() {
	if err := m.store.Prune(time.Now().Add(-pruneMaxAge)); err != nil {
		m.logger.Printf("pruning artifacts: %v", err)
	}
}
