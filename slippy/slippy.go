// Package slippy implements the Web Mercator slippy-map projection math:
// geographic to tile-index conversions, tile grid planning around a point,
// and pixel mapping inside an assembled mosaic.
//
// All functions are pure and safe for concurrent use without synchronization.
package slippy

import (
	"fmt"
	"math"
)

// TileSize is the edge length in pixels of a standard slippy-map tile.
const TileSize = 256

const (
	// MinZoom and MaxZoom bound the supported zoom levels.
	MinZoom = 0
	MaxZoom = 22

	// maxMercatorLat is the highest latitude representable in Web Mercator.
	// Latitudes beyond it are clamped before projection.
	maxMercatorLat = 85.05113
)

// TileIndex identifies one 256x256 raster tile under the slippy-map scheme.
// 0 <= X, Y < 2^Z.
type TileIndex struct {
	Z int
	X int
	Y int
}

func (t TileIndex) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// Pixel is a pixel position, either within a single tile or within a mosaic
// depending on context.
type Pixel struct {
	X int
	Y int
}

// ClampLat normalizes a latitude into the Mercator-valid range. Out-of-range
// input is a projection inaccuracy we accept, not a domain error.
func ClampLat(lat float64) float64 {
	return math.Max(math.Min(lat, maxMercatorLat), -maxMercatorLat)
}

// geoToTileFloat returns the fractional tile coordinates of a geographic
// point at the given zoom.
func geoToTileFloat(lon, lat float64, zoom int) (x, y float64) {
	lat = ClampLat(lat)
	n := math.Exp2(float64(zoom))
	x = (lon + 180.0) / 360.0 * n
	y = (1.0 - math.Asinh(math.Tan(lat*math.Pi/180.0))/math.Pi) / 2.0 * n
	return x, y
}

// GeoToTile converts a geographic coordinate to its containing tile index and
// the pixel offset of the point within that tile.
func GeoToTile(lon, lat float64, zoom int) (tile TileIndex, local Pixel, err error) {
	if zoom < MinZoom || zoom > MaxZoom {
		return TileIndex{}, Pixel{}, fmt.Errorf("zoom %d outside supported range [%d, %d]", zoom, MinZoom, MaxZoom)
	}
	fx, fy := geoToTileFloat(lon, lat, zoom)

	max := 1 << zoom
	tx := clampInt(int(math.Floor(fx)), 0, max-1)
	ty := clampInt(int(math.Floor(fy)), 0, max-1)

	px := clampInt(int((fx-float64(tx))*TileSize), 0, TileSize-1)
	py := clampInt(int((fy-float64(ty))*TileSize), 0, TileSize-1)

	return TileIndex{Z: zoom, X: tx, Y: ty}, Pixel{X: px, Y: py}, nil
}

// TileToGeo returns the geographic coordinate of the north-west corner of the
// given tile.
func TileToGeo(t TileIndex) (lon, lat float64) {
	n := math.Exp2(float64(t.Z))
	lon = float64(t.X)/n*360.0 - 180.0
	lat = math.Atan(math.Sinh(math.Pi*(1.0-2.0*float64(t.Y)/n))) * 180.0 / math.Pi
	return lon, lat
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
