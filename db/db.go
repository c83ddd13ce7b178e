package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lyrebird-fm/lyrebird/models"
)

// DB is a wrapper around sql.DB holding the artifact index: which album
// arts and artist images have been downloaded, from which provider, at
// which resolution, and where their bytes live under the content root.
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if err = db.Ping(); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// Initialize sets up the database tables
func (db *DB) Initialize() error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS artifacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,          -- 'art' or 'artist'
		track_key TEXT NOT NULL DEFAULT '',
		artist_key TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL,
		resolution_px INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		stored_path TEXT NOT NULL,
		fetched_at TIMESTAMP,
		UNIQUE(kind, track_key, artist_key, provider, content_hash)
	)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_artifacts_track ON artifacts(kind, track_key);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_artifacts_hash ON artifacts(content_hash);
	`)
	return err
}

const (
	KindAlbumArt    = "art"
	KindArtistImage = "artist"
)

// UpsertArtifact records one downloaded artifact. Re-recording the same
// (kind, keys, provider, hash) tuple refreshes fetched_at only.
func (db *DB) UpsertArtifact(kind string, e models.ArtifactEntry) error {
	_, err := db.Exec(`
	INSERT INTO artifacts (kind, track_key, artist_key, provider, resolution_px, content_hash, stored_path, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(kind, track_key, artist_key, provider, content_hash)
	DO UPDATE SET resolution_px = excluded.resolution_px,
	              stored_path = excluded.stored_path,
	              fetched_at = excluded.fetched_at`,
		kind, string(e.TrackKey), e.ArtistKey, string(e.ProviderID),
		e.ResolutionPx, e.ContentHash, e.StoredPath, e.FetchedAt)
	return err
}

// AlbumArts returns every recorded album art entry for a track, highest
// resolution first.
func (db *DB) AlbumArts(key models.TrackKey) ([]models.ArtifactEntry, error) {
	rows, err := db.Query(`
	SELECT track_key, artist_key, provider, resolution_px, content_hash, stored_path, fetched_at
	FROM artifacts WHERE kind = ? AND track_key = ?
	ORDER BY resolution_px DESC`, KindAlbumArt, string(key))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// ArtistImages returns every recorded image for an artist key.
func (db *DB) ArtistImages(artistKey string) ([]models.ArtifactEntry, error) {
	rows, err := db.Query(`
	SELECT track_key, artist_key, provider, resolution_px, content_hash, stored_path, fetched_at
	FROM artifacts WHERE kind = ? AND artist_key = ?
	ORDER BY fetched_at ASC`, KindArtistImage, artistKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// AllArtistImages returns every stored artist image, for the slideshow.
func (db *DB) AllArtistImages() ([]models.ArtifactEntry, error) {
	rows, err := db.Query(`
	SELECT track_key, artist_key, provider, resolution_px, content_hash, stored_path, fetched_at
	FROM artifacts WHERE kind = ?`, KindArtistImage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// HasContentHash reports whether bytes with this hash were downloaded
// before. A known hash is never downloaded again.
func (db *DB) HasContentHash(hash string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(1) FROM artifacts WHERE content_hash = ?`, hash).Scan(&n)
	return n > 0, err
}

// PruneOlderThan removes index rows whose artifact has not been refreshed
// since the cutoff and returns the stored paths whose bytes are now
// unreferenced. Run from the weekly maintenance job.
func (db *DB) PruneOlderThan(cutoff time.Time) ([]string, error) {
	rows, err := db.Query(`
	SELECT stored_path FROM artifacts WHERE fetched_at < ?
	AND stored_path NOT IN (SELECT stored_path FROM artifacts WHERE fetched_at >= ?)`,
		cutoff, cutoff)
	if err != nil {
		return nil, err
	}
	var orphans []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, err
		}
		orphans = append(orphans, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := db.Exec(`DELETE FROM artifacts WHERE fetched_at < ?`, cutoff); err != nil {
		return nil, err
	}
	return orphans, nil
}

func scanArtifacts(rows *sql.Rows) ([]models.ArtifactEntry, error) {
	var out []models.ArtifactEntry
	for rows.Next() {
		var e models.ArtifactEntry
		var trackKey, provider string
		if err := rows.Scan(&trackKey, &e.ArtistKey, &provider, &e.ResolutionPx,
			&e.ContentHash, &e.StoredPath, &e.FetchedAt); err != nil {
			return nil, err
		}
		e.TrackKey = models.TrackKey(trackKey)
		e.ProviderID = models.ProviderID(provider)
		out = append(out, e)
	}
	return out, rows.Err()
}
