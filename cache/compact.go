package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

// Meta is the size accounting written to cache.meta after a compaction.
type Meta struct {
	Entries   int       `json:"entries"`
	Bytes     int64     `json:"bytes"`
	Removed   int       `json:"removed"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Compact scans a cache directory, removes expired entries, quarantines
// unreadable ones, and writes cache.meta. Run at startup and from the
// weekly maintenance job.
func Compact(dir string) (Meta, error) {
	meta := Meta{UpdatedAt: time.Now()}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return meta, nil
		}
		return meta, err
	}

	now := time.Now()
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || name == "cache.meta" || strings.HasSuffix(name, ".corrupt") {
			continue
		}
		path := filepath.Join(dir, name)

		blob, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var env struct {
			ExpiresAt time.Time `json:"expiresAt"`
		}
		if err := json.Unmarshal(blob, &env); err != nil {
			os.Rename(path, path+".corrupt")
			meta.Removed++
			continue
		}
		if !env.ExpiresAt.IsZero() && now.After(env.ExpiresAt) {
			os.Remove(path)
			meta.Removed++
			continue
		}

		meta.Entries++
		meta.Bytes += int64(len(blob))
	}

	blob, err := json.Marshal(meta)
	if err != nil {
		return meta, err
	}
	if err := renameio.WriteFile(filepath.Join(dir, "cache.meta"), blob, 0o644); err != nil {
		return meta, err
	}
	return meta, nil
}
