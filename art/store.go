package art

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/lyrebird-fm/lyrebird/db"
	"github.com/lyrebird-fm/lyrebird/models"
)

// maxImageBytes caps a single download. Album art and artist photos are
// far smaller in practice.
const maxImageBytes = 20 << 20

// Stored describes one image on disk after a Fetch.
type Stored struct {
	Path         string
	ContentHash  string
	ResolutionPx int
}

// Store keeps downloaded images content-addressed under dir and records
// them in the artifact index. The same bytes are written once no matter
// how many providers or tracks reference them.
type Store struct {
	logger *log.Logger
	dir    string
	db     *db.DB
	client *http.Client

	mu   sync.Mutex
	seen map[string]Stored // url -> stored, session memo
}

func NewStore(dataRoot string, database *db.DB) (*Store, error) {
	dir := filepath.Join(dataRoot, "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating image directory: %w", err)
	}
	return &Store{
		logger: log.New(os.Stdout, "art: ", log.LstdFlags|log.Lmsgprefix),
		dir:    dir,
		db:     database,
		client: &http.Client{Timeout: 30 * time.Second},
		seen:   make(map[string]Stored),
	}, nil
}

// Dir is the content root, served by the HTTP layer.
func (s *Store) Dir() string { return s.dir }

// Fetch downloads an image, hashes it, and writes it under the content
// root. Bytes already on disk (same hash from any URL) are not rewritten,
// and a URL fetched earlier in this session is not downloaded again.
func (s *Store) Fetch(ctx context.Context, rawURL string) (Stored, error) {
	s.mu.Lock()
	if st, ok := s.seen[rawURL]; ok {
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return Stored{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Stored{}, fmt.Errorf("downloading image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Stored{}, fmt.Errorf("image download status %d", resp.StatusCode)
	}

	blob, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return Stored{}, fmt.Errorf("reading image body: %w", err)
	}
	if len(blob) > maxImageBytes {
		return Stored{}, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	st, err := s.put(blob)
	if err != nil {
		return Stored{}, err
	}

	s.mu.Lock()
	s.seen[rawURL] = st
	s.mu.Unlock()
	return st, nil
}

// put writes blob under its content hash unless those bytes already exist.
func (s *Store) put(blob []byte) (Stored, error) {
	sum := sha256.Sum256(blob)
	hash := hex.EncodeToString(sum[:])

	res := 0
	cfg, _, err := image.DecodeConfig(bytes.NewReader(blob))
	if err == nil {
		res = cfg.Width
		if cfg.Height > res {
			res = cfg.Height
		}
	}

	path := filepath.Join(s.dir, hash+extFor(blob))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := renameio.WriteFile(path, blob, 0o644); err != nil {
			return Stored{}, fmt.Errorf("writing image: %w", err)
		}
	}
	return Stored{Path: path, ContentHash: hash, ResolutionPx: res}, nil
}

// Index records a stored image in the artifact index.
func (s *Store) Index(kind string, st Stored, trackKey models.TrackKey, artistKey string, provider models.ProviderID) error {
	return s.db.UpsertArtifact(kind, models.ArtifactEntry{
		TrackKey:     trackKey,
		ArtistKey:    artistKey,
		ProviderID:   provider,
		ResolutionPx: st.ResolutionPx,
		ContentHash:  st.ContentHash,
		StoredPath:   st.Path,
		FetchedAt:    time.Now(),
	})
}

// Prune drops index rows older than cutoff and deletes their orphaned
// bytes. Run from the weekly maintenance job.
func (s *Store) Prune(cutoff time.Time) error {
	orphans, err := s.db.PruneOlderThan(cutoff)
	if err != nil {
		return err
	}
	for _, p := range orphans {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Printf("removing pruned image %s: %v", p, err)
		}
	}
	if len(orphans) > 0 {
		s.logger.Printf("pruned %d images", len(orphans))
	}
	return nil
}

func extFor(blob []byte) string {
	switch http.DetectContentType(blob) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
