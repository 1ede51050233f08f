package gridsource

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TileCache keeps downloaded tile bundles on disk, compressed exactly as
// fetched. The layout mirrors the object keys, so the top-level directory of
// every cached file is the model's store name; that directory decides which
// retention window applies during cleanup.
type TileCache struct {
	dir    string
	logger *slog.Logger
}

// NewTileCache creates the cache root if needed.
func NewTileCache(dir string, logger *slog.Logger) (*TileCache, error) {
	if dir == "" {
		return nil, fmt.Errorf("gridsource: cache dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
	}
	return &TileCache{dir: dir, logger: logger}, nil
}

// Dir returns the cache root.
func (c *TileCache) Dir() string {
	return c.dir
}

// path maps an object key onto the cache filesystem.
func (c *TileCache) path(key string) string {
	return filepath.Join(c.dir, filepath.FromSlash(key))
}

// Has reports whether a key is cached.
func (c *TileCache) Has(key string) bool {
	info, err := os.Stat(c.path(key))
	return err == nil && info.Mode().IsRegular()
}

// Get returns the cached bytes for a key. Any read failure is a miss.
func (c *TileCache) Get(key string) ([]byte, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put stores bytes under a key. The write goes through a temp file and a
// rename so readers never observe a partial tile.
func (c *TileCache) Put(key string, data []byte) error {
	dest := c.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating cache subdir for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tile-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file for %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file for %s: %w", key, err)
	}
	return nil
}

// Size walks the cache and returns its total byte size.
func (c *TileCache) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries can vanish mid-walk during a concurrent cleanup.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning cache dir %s: %w", c.dir, err)
	}
	return total, nil
}

// CleanupExpired removes cached tiles older than their model's retention
// window, measured against file modification time (the download time).
// retentionFor maps a store-model directory name to its window; it must
// return a positive default for unknown directories. Returns the number of
// files removed and the bytes freed.
func (c *TileCache) CleanupExpired(now time.Time, retentionFor func(storeModel string) time.Duration) (int, int64, error) {
	removed := 0
	var freed int64

	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(c.dir, path)
		if relErr != nil {
			return nil
		}
		store := strings.Split(filepath.ToSlash(rel), "/")[0]

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if now.Sub(info.ModTime()) <= retentionFor(store) {
			return nil
		}

		if rmErr := os.Remove(path); rmErr != nil {
			c.logger.Warn("failed to remove expired tile",
				"path", path,
				"error", rmErr,
			)
			return nil
		}
		removed++
		freed += info.Size()
		return nil
	})
	if err != nil {
		return removed, freed, fmt.Errorf("sweeping cache dir %s: %w", c.dir, err)
	}

	// Drop directories the sweep emptied, deepest first.
	c.pruneEmptyDirs()

	return removed, freed, nil
}

// pruneEmptyDirs removes empty directories left behind by expired tiles. Best
// effort; failures are ignored because the next sweep retries.
func (c *TileCache) pruneEmptyDirs() {
	var dirs []string
	_ = filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && path != c.dir {
			dirs = append(dirs, path)
		}
		return nil
	})
	// Children sort after parents, so delete in reverse. Remove fails on
	// non-empty directories and leaves them in place.
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Remove(dirs[i])
	}
}
