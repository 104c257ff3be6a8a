// Package tiles provides the tile acquisition layer: a persistent on-disk
// tile cache with an in-memory LRU in front of it, and a network fetcher
// with bounded concurrency, retry with jittered exponential backoff, and
// single-flight de-duplication of concurrent requests for the same tile.
package tiles

import (
	"errors"
	"fmt"
	"image"

	"github.com/akhenakh/tilemosaic/slippy"
)

// TileImage is one fetched raster tile, decoded and normalized to 256x256,
// together with the index it belongs to.
type TileImage struct {
	Index slippy.TileIndex
	Image image.Image
}

// ErrTileNotFound marks a permanent fetch failure: the source has no data
// for this tile (HTTP 4xx). It is never retried.
var ErrTileNotFound = errors.New("tile not found at source")

// TileError is a fetch failure carrying the index of the tile that could not
// be obtained, so point-level failures can name the offending tile.
type TileError struct {
	Tile slippy.TileIndex
	Err  error
}

func (e *TileError) Error() string {
	return fmt.Sprintf("tile %s: %v", e.Tile, e.Err)
}

func (e *TileError) Unwrap() error { return e.Err }
