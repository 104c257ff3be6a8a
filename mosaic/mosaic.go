// Package mosaic stitches a grid of fetched tiles into one composite raster
// and builds the dataset record describing it.
package mosaic

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/akhenakh/tilemosaic/slippy"
	"github.com/akhenakh/tilemosaic/tiles"
)

// Assemble stitches the grid's tile images into a (256*N)x(256*N) raster by
// straight pixel block copy in row-major order. Tiles are pixel-aligned by
// construction of the slippy scheme, so there is no resampling or blending.
//
// Every cell must be present: the caller must not invoke assembly unless all
// tiles of the grid fetched successfully. A nil or out-of-place image fails
// the whole assembly.
func Assemble(grid *slippy.Grid, images []*tiles.TileImage) (*image.RGBA, error) {
	if len(images) != len(grid.Tiles) {
		return nil, fmt.Errorf("got %d images for a %dx%d grid", len(images), grid.Size, grid.Size)
	}

	span := grid.PixelSpan()
	dst := image.NewRGBA(image.Rect(0, 0, span, span))

	for i, ti := range images {
		if ti == nil || ti.Image == nil {
			return nil, fmt.Errorf("missing image for grid cell %d (%s)", i, grid.Tiles[i])
		}
		if ti.Index != grid.Tiles[i] {
			return nil, fmt.Errorf("image at cell %d is for tile %s, want %s", i, ti.Index, grid.Tiles[i])
		}

		row := i / grid.Size
		col := i % grid.Size
		r := image.Rect(
			col*slippy.TileSize, row*slippy.TileSize,
			(col+1)*slippy.TileSize, (row+1)*slippy.TileSize,
		)
		draw.Draw(dst, r, ti.Image, ti.Image.Bounds().Min, draw.Src)
	}
	return dst, nil
}
