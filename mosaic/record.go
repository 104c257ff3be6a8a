package mosaic

import (
	"fmt"

	"github.com/akhenakh/tilemosaic/slippy"
)

// TileCenter is the slippy index of the mosaic's center tile as emitted in
// dataset records.
type TileCenter struct {
	Z int `json:"z"`
	X int `json:"x"`
	Y int `json:"y"`
}

// PointPixel is one labeled point inside a mosaic's pixel space.
type PointPixel struct {
	ID     string `json:"id"`
	PixelX int    `json:"pixel_x"`
	PixelY int    `json:"pixel_y"`
}

// DatasetRecord is the artifact emitted per successfully processed point:
// an opaque reference to the persisted mosaic, its center tile, and the
// pixel coordinates of the point(s) it labels. Points is a list so that
// grids sharing one mosaic can carry several points, though the single-point
// case is the default.
type DatasetRecord struct {
	Image      string       `json:"image"`
	TileCenter TileCenter   `json:"tile_center"`
	Points     []PointPixel `json:"points"`
}

// ImageRef returns the canonical mosaic file name for a point:
// {point_id}_{zoom}_{centerTileX}_{centerTileY}.png.
func ImageRef(pointID string, center slippy.TileIndex) string {
	return fmt.Sprintf("%s_%d_%d_%d.png", pointID, center.Z, center.X, center.Y)
}

// BuildRecord assembles the dataset record for one point. Pure data
// transformation; imageRef is an opaque handle supplied by whatever persists
// the mosaic.
func BuildRecord(pointID string, center slippy.TileIndex, imageRef string, pixel slippy.Pixel) DatasetRecord {
	return DatasetRecord{
		Image:      imageRef,
		TileCenter: TileCenter{Z: center.Z, X: center.X, Y: center.Y},
		Points: []PointPixel{
			{ID: pointID, PixelX: pixel.X, PixelY: pixel.Y},
		},
	}
}
