// Package cache stores per-file extraction records between runs so files
// whose bytes did not change skip the parse and walk entirely.
package cache

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
)

// Cache is a content-validated file cache. Keys are file paths; every entry
// carries the BLAKE3 hash of the bytes it was computed from, so a stale
// entry is never served for edited content.
type Cache struct {
	enabled bool
	dir     string
	ttl     time.Duration
}

// Entry is one stored record.
type Entry struct {
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
	Data      []byte    `json:"data"`
}

// New creates a cache rooted at dir. A disabled cache accepts every call and
// never hits.
func New(dir string, ttlHours int, enabled bool) (*Cache, error) {
	c := &Cache{enabled: enabled}
	if !enabled {
		return c, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	c.dir = dir
	c.ttl = time.Duration(ttlHours) * time.Hour
	return c, nil
}

// DefaultDir returns the per-user cache directory.
func DefaultDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "vestige-cache")
	}
	return filepath.Join(base, "vestige")
}

// ResolveDir anchors a relative cache directory under the analysis root, so
// per-project caches land in the project rather than the process cwd.
func ResolveDir(dir, root string) string {
	if dir == "" || root == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

// HashFile hashes a file's contents with BLAKE3.
func HashFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes hashes bytes with BLAKE3, hex encoded.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get retrieves an entry if it exists and has not expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	if !c.enabled {
		return nil, false
	}
	entry, ok := c.readEntry(key)
	if !ok {
		return nil, false
	}
	return entry.Data, true
}

// GetWithHash retrieves an entry only if its content hash matches.
func (c *Cache) GetWithHash(key, hash string) ([]byte, bool) {
	if !c.enabled {
		return nil, false
	}
	entry, ok := c.readEntry(key)
	if !ok || entry.Hash != hash {
		return nil, false
	}
	return entry.Data, true
}

// Set stores data under key with no content hash.
func (c *Cache) Set(key string, data []byte) error {
	return c.SetWithHash(key, "", data)
}

// SetWithHash stores data under key, validated against hash on retrieval.
func (c *Cache) SetWithHash(key, hash string, data []byte) error {
	if !c.enabled {
		return nil
	}

	raw, err := json.Marshal(Entry{Hash: hash, Timestamp: time.Now(), Data: data})
	if err != nil {
		return err
	}
	return os.WriteFile(c.keyPath(key), raw, 0o600)
}

// Invalidate removes the entry for key. Removing an absent key is not an
// error.
func (c *Cache) Invalidate(key string) error {
	if !c.enabled {
		return nil
	}
	if err := os.Remove(c.keyPath(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	if !c.enabled {
		return nil
	}
	return os.RemoveAll(c.dir)
}

func (c *Cache) readEntry(key string) (*Entry, bool) {
	path := c.keyPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	if time.Since(entry.Timestamp) > c.ttl {
		os.Remove(path)
		return nil, false
	}
	return &entry, true
}

// keyPath hashes the key into a flat filename; keys are arbitrary paths.
func (c *Cache) keyPath(key string) string {
	sum := blake3.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}

// Stats summarizes the cache directory.
type Stats struct {
	Entries   int           `json:"entries"`
	TotalSize int64         `json:"total_size"`
	OldestAge time.Duration `json:"oldest_age"`
	NewestAge time.Duration `json:"newest_age"`
}

// GetStats reads entry counts and ages from the cache directory.
func (c *Cache) GetStats() (*Stats, error) {
	stats := &Stats{}
	if !c.enabled {
		return stats, nil
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}

	var oldest, newest time.Time
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.Entries++
		stats.TotalSize += info.Size()

		switch mod := info.ModTime(); {
		case oldest.IsZero():
			oldest, newest = mod, mod
		case mod.Before(oldest):
			oldest = mod
		case mod.After(newest):
			newest = mod
		}
	}

	if stats.Entries > 0 {
		stats.OldestAge = time.Since(oldest)
		stats.NewestAge = time.Since(newest)
	}
	return stats, nil
}
