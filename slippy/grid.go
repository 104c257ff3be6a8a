package slippy

import "fmt"

// Grid is an N x N window of tile indices centered on a point's own tile,
// stored row-major (ascending x left to right, ascending y top to bottom).
//
// Grids near the tile-space boundary are clamped, not wrapped: a window that
// would extend past x=0 or x=2^zoom-1 repeats the boundary tile. The center
// tile is always the true containing tile of the point and always sits at
// the middle cell.
type Grid struct {
	Zoom   int
	Size   int
	Center TileIndex
	Tiles  []TileIndex
}

// PlanGrid computes the gridSize x gridSize tile window covering the region
// around a geographic point, plus the point's pixel offset within its own
// (center) tile. gridSize must be a positive odd integer; an even size has no
// unambiguous center and is rejected as a configuration error.
func PlanGrid(lon, lat float64, zoom, gridSize int) (*Grid, Pixel, error) {
	if gridSize <= 0 || gridSize%2 == 0 {
		return nil, Pixel{}, fmt.Errorf("grid size must be a positive odd integer, got %d", gridSize)
	}
	center, local, err := GeoToTile(lon, lat, zoom)
	if err != nil {
		return nil, Pixel{}, err
	}

	half := gridSize / 2
	max := 1 << zoom
	tiles := make([]TileIndex, 0, gridSize*gridSize)
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			tiles = append(tiles, TileIndex{
				Z: zoom,
				X: clampInt(center.X+dx, 0, max-1),
				Y: clampInt(center.Y+dy, 0, max-1),
			})
		}
	}

	g := &Grid{
		Zoom:   zoom,
		Size:   gridSize,
		Center: center,
		Tiles:  tiles,
	}
	return g, local, nil
}

// Cell returns the tile index at the given row and column.
func (g *Grid) Cell(row, col int) TileIndex {
	return g.Tiles[row*g.Size+col]
}

// PixelSpan is the edge length in pixels of the mosaic assembled from this grid.
func (g *Grid) PixelSpan() int {
	return g.Size * TileSize
}

// MapPoint converts the point's pixel offset within its center tile into its
// pixel position inside the assembled mosaic. The result is always within
// [0, 256*gridSize) on both axes; a violation indicates a corrupted offset
// and is returned as an error.
func (g *Grid) MapPoint(local Pixel) (Pixel, error) {
	half := g.Size / 2
	p := Pixel{
		X: half*TileSize + local.X,
		Y: half*TileSize + local.Y,
	}
	if p.X < 0 || p.X >= g.PixelSpan() || p.Y < 0 || p.Y >= g.PixelSpan() {
		return Pixel{}, fmt.Errorf("pixel %v outside mosaic bounds %dx%d", p, g.PixelSpan(), g.PixelSpan())
	}
	return p, nil
}
