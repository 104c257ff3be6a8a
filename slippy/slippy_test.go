package slippy

import (
	"math"
	"testing"
)

func TestGeoToTileRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		lon  float64
		lat  float64
		zoom int
	}{
		{"Equator at Greenwich", 0.0, 0.0, 10},
		{"Mont Blanc", 6.86487244, 45.83291118, 14},
		{"Sydney", 151.2093, -33.8688, 16},
		{"High latitude", 18.0, 69.6, 12},
		{"Negative longitude", -71.0589, 42.3601, 18},
		{"Zoom zero", 106.5, 35.2, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tile, _, err := GeoToTile(tc.lon, tc.lat, tc.zoom)
			if err != nil {
				t.Fatalf("GeoToTile(%f, %f, %d) returned an unexpected error: %v", tc.lon, tc.lat, tc.zoom, err)
			}

			max := 1 << tc.zoom
			if tile.X < 0 || tile.X >= max || tile.Y < 0 || tile.Y >= max {
				t.Fatalf("tile %s outside valid range [0, %d)", tile, max)
			}

			// Round-trip at tile granularity: the midpoint of the tile's
			// geographic extent must map back to the same tile index.
			nwLon, nwLat := TileToGeo(tile)
			seLon, seLat := TileToGeo(TileIndex{Z: tile.Z, X: tile.X + 1, Y: tile.Y + 1})
			midLon := (nwLon + seLon) / 2
			midLat := (nwLat + seLat) / 2

			back, _, err := GeoToTile(midLon, midLat, tc.zoom)
			if err != nil {
				t.Fatalf("GeoToTile round-trip error: %v", err)
			}
			if back != tile {
				t.Errorf("round-trip mismatch: got %s, want %s", back, tile)
			}
		})
	}
}

func TestGeoToTileZoomRange(t *testing.T) {
	if _, _, err := GeoToTile(0, 0, -1); err == nil {
		t.Error("expected error for zoom -1, got none")
	}
	if _, _, err := GeoToTile(0, 0, 23); err == nil {
		t.Error("expected error for zoom 23, got none")
	}
	if _, _, err := GeoToTile(0, 0, 22); err != nil {
		t.Errorf("zoom 22 should be valid, got error: %v", err)
	}
}

func TestGeoToTileClampsLatitude(t *testing.T) {
	// Poles are outside the Mercator domain; they must clamp, not error.
	tile, _, err := GeoToTile(0, 90.0, 4)
	if err != nil {
		t.Fatalf("latitude 90 should be clamped, got error: %v", err)
	}
	if tile.Y != 0 {
		t.Errorf("north pole should clamp to tile row 0, got %d", tile.Y)
	}

	tile, _, err = GeoToTile(0, -90.0, 4)
	if err != nil {
		t.Fatalf("latitude -90 should be clamped, got error: %v", err)
	}
	if tile.Y != 15 {
		t.Errorf("south pole should clamp to tile row 15, got %d", tile.Y)
	}
}

func TestTileToGeoNorthWestCorner(t *testing.T) {
	// Tile 0/0/0 covers the whole world; its NW corner is (-180, ~85.05).
	lon, lat := TileToGeo(TileIndex{Z: 0, X: 0, Y: 0})
	if lon != -180.0 {
		t.Errorf("NW longitude of 0/0/0: got %f, want -180", lon)
	}
	if math.Abs(lat-85.0511) > 0.001 {
		t.Errorf("NW latitude of 0/0/0: got %f, want ~85.0511", lat)
	}
}

func TestPlanGrid(t *testing.T) {
	testCases := []struct {
		name     string
		lon, lat float64
		zoom     int
		size     int
		wantErr  bool
	}{
		{"size 1", 6.8, 45.8, 12, 1, false},
		{"size 3", 6.8, 45.8, 12, 3, false},
		{"size 5", 106.5, 35.2, 18, 5, false},
		{"size 9", -0.1, 51.5, 15, 9, false},
		{"even size rejected", 6.8, 45.8, 12, 4, true},
		{"zero size rejected", 6.8, 45.8, 12, 0, true},
		{"negative size rejected", 6.8, 45.8, 12, -3, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			grid, _, err := PlanGrid(tc.lon, tc.lat, tc.zoom, tc.size)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("PlanGrid(size=%d) expected an error, got none", tc.size)
				}
				return
			}
			if err != nil {
				t.Fatalf("PlanGrid returned an unexpected error: %v", err)
			}

			if got := len(grid.Tiles); got != tc.size*tc.size {
				t.Errorf("grid has %d tiles, want %d", got, tc.size*tc.size)
			}

			// The point's own tile sits at the exact geometric center.
			half := tc.size / 2
			if got := grid.Cell(half, half); got != grid.Center {
				t.Errorf("center cell is %s, want %s", got, grid.Center)
			}

			wantCenter, _, _ := GeoToTile(tc.lon, tc.lat, tc.zoom)
			if grid.Center != wantCenter {
				t.Errorf("grid center is %s, want %s", grid.Center, wantCenter)
			}

			// Row-major ordering away from the boundary: rightward neighbor
			// has x+1, downward neighbor has y+1.
			if tc.size >= 3 && grid.Center.X > half && grid.Center.Y > half {
				if got := grid.Cell(half, half+1); got.X != grid.Center.X+1 {
					t.Errorf("cell right of center has x=%d, want %d", got.X, grid.Center.X+1)
				}
				if got := grid.Cell(half+1, half); got.Y != grid.Center.Y+1 {
					t.Errorf("cell below center has y=%d, want %d", got.Y, grid.Center.Y+1)
				}
			}
		})
	}
}

func TestPlanGridClampsAtBoundary(t *testing.T) {
	// A point in the far north-west corner of tile space: the window would
	// extend past x=0 / y=0 and must clamp, never wrap to 2^zoom-1.
	grid, _, err := PlanGrid(-179.9, 85.0, 3, 5)
	if err != nil {
		t.Fatalf("PlanGrid returned an unexpected error: %v", err)
	}
	for _, tile := range grid.Tiles {
		if tile.X < 0 || tile.X >= 8 || tile.Y < 0 || tile.Y >= 8 {
			t.Fatalf("tile %s outside boundary [0, 8)", tile)
		}
	}
	if tl := grid.Cell(0, 0); tl.X != 0 || tl.Y != 0 {
		t.Errorf("top-left cell should clamp to 0/0, got %s", tl)
	}
}

func TestMapPointWithinMosaic(t *testing.T) {
	for _, size := range []int{1, 3, 5, 9} {
		grid, local, err := PlanGrid(106.5, 35.2, 18, size)
		if err != nil {
			t.Fatalf("PlanGrid(size=%d): %v", size, err)
		}
		p, err := grid.MapPoint(local)
		if err != nil {
			t.Fatalf("MapPoint(size=%d): %v", size, err)
		}
		span := size * TileSize
		if p.X < 0 || p.X >= span || p.Y < 0 || p.Y >= span {
			t.Errorf("size %d: pixel %v outside [0, %d)", size, p, span)
		}
		// The point lives in the middle cell, so its pixel position lands
		// inside the central 256x256 block.
		half := size / 2
		if p.X < half*TileSize || p.X >= (half+1)*TileSize {
			t.Errorf("size %d: pixel x=%d outside center column block", size, p.X)
		}
		if p.Y < half*TileSize || p.Y >= (half+1)*TileSize {
			t.Errorf("size %d: pixel y=%d outside center row block", size, p.Y)
		}
	}
}

func TestMapPointScenario(t *testing.T) {
	// zoom=18, gridSize=5 around (106.5, 35.2): a 1280x1280 mosaic with the
	// point near its center (exact value set by the sub-tile offset).
	grid, local, err := PlanGrid(106.5, 35.2, 18, 5)
	if err != nil {
		t.Fatalf("PlanGrid: %v", err)
	}
	if grid.PixelSpan() != 1280 {
		t.Fatalf("mosaic span is %d, want 1280", grid.PixelSpan())
	}
	p, err := grid.MapPoint(local)
	if err != nil {
		t.Fatalf("MapPoint: %v", err)
	}
	if math.Abs(float64(p.X)-640) > 128 || math.Abs(float64(p.Y)-640) > 128 {
		t.Errorf("pixel %v not near mosaic center (640, 640)", p)
	}
}
