package tiles

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/akhenakh/tilemosaic/slippy"
)

// DiskCache is a content-addressed on-disk store of raw tile payloads,
// addressed by (sourceID, zoom, x, y). Entries are immutable once written
// and reusable across runs.
//
// Layout: <root>/<sourceID>/<z>/<x>_<y>.png, one file per tile.
//
// Writes go through a temp file followed by an atomic rename, so a fetch
// cancelled mid-flight never leaves a truncated entry behind. Concurrent
// reads and writes are safe without extra locking since entries are
// write-once per key.
type DiskCache struct {
	root     string
	sourceID string
}

// NewDiskCache opens (creating if needed) a disk cache rooted at dir for the
// given tile source.
func NewDiskCache(dir, sourceID string) (*DiskCache, error) {
	if sourceID == "" {
		return nil, fmt.Errorf("cache source identifier must not be empty")
	}
	root := filepath.Join(dir, sanitizeSourceID(sourceID))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", root, err)
	}
	return &DiskCache{root: root, sourceID: sourceID}, nil
}

func (c *DiskCache) path(t slippy.TileIndex) string {
	return filepath.Join(c.root, fmt.Sprintf("%d", t.Z), fmt.Sprintf("%d_%d.png", t.X, t.Y))
}

// Get returns the cached payload for the tile, or ok=false on a miss.
// A present but unreadable entry is reported as an error so the caller can
// fall back to the network in degraded mode.
func (c *DiskCache) Get(t slippy.TileIndex) ([]byte, bool, error) {
	data, err := os.ReadFile(c.path(t))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cache entry for %s: %w", t, err)
	}
	return data, true, nil
}

// Put persists the payload for the tile. The write is atomic: the entry is
// staged to a temp file and renamed into place.
func (c *DiskCache) Put(t slippy.TileIndex, data []byte) error {
	dst := c.path(t)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create cache subdirectory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tile-*")
	if err != nil {
		return fmt.Errorf("failed to stage cache entry for %s: %w", t, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache entry for %s: %w", t, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close cache entry for %s: %w", t, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to commit cache entry for %s: %w", t, err)
	}
	return nil
}

// sanitizeSourceID maps a source identifier (typically a hostname) to a path
// component safe on every filesystem we care about.
func sanitizeSourceID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
