package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

// GeoPoint is one input point record. IDs are caller-supplied and assumed
// unique across the collection.
type GeoPoint struct {
	ID  string
	Lon float64
	Lat float64
}

type geojsonGeometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

type geojsonFeature struct {
	ID         any             `json:"id"`
	Properties map[string]any  `json:"properties"`
	Geometry   geojsonGeometry `json:"geometry"`
}

type geojsonCollection struct {
	Type     string           `json:"type"`
	Features []geojsonFeature `json:"features"`
}

// LoadPoints reads a GeoJSON FeatureCollection of Point features. The point
// identifier comes from the "id" or "osm_id" property, falling back to the
// feature-level id. Features with non-Point geometry or out-of-range WGS84
// coordinates are skipped with a warning rather than failing the run.
func LoadPoints(path string, logger *slog.Logger) ([]GeoPoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	var fc geojsonCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse GeoJSON from %s: %w", path, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%s is not a GeoJSON FeatureCollection (type %q)", path, fc.Type)
	}

	points := make([]GeoPoint, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry.Type != "Point" {
			logger.Warn("skipping non-point feature", "index", i, "geometry", f.Geometry.Type)
			continue
		}
		if len(f.Geometry.Coordinates) < 2 {
			logger.Warn("skipping feature with malformed coordinates", "index", i)
			continue
		}
		lon, lat := f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]
		if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
			logger.Warn("skipping feature with out-of-range coordinates",
				"index", i, "lon", lon, "lat", lat)
			continue
		}

		id := featureID(f)
		if id == "" {
			logger.Warn("skipping feature without an id", "index", i)
			continue
		}
		points = append(points, GeoPoint{ID: id, Lon: lon, Lat: lat})
	}

	if len(points) == 0 {
		return nil, fmt.Errorf("no usable point features in %s", path)
	}
	return points, nil
}

func featureID(f geojsonFeature) string {
	for _, key := range []string{"id", "osm_id"} {
		if v, ok := f.Properties[key]; ok {
			if s := stringifyID(v); s != "" {
				return s
			}
		}
	}
	return stringifyID(f.ID)
}

func stringifyID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}
