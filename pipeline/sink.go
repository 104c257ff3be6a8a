package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/akhenakh/tilemosaic/mosaic"
)

// Sink receives each completed mosaic and its dataset record. The image
// reference inside the record names the raster; how it is persisted is the
// sink's business.
type Sink interface {
	Write(ctx context.Context, ref string, img image.Image, rec mosaic.DatasetRecord) error
}

// FileSink writes mosaics and their records to a directory: the PNG raster
// under its image reference and a sibling JSON document with the same stem.
type FileSink struct {
	dir string
}

// NewFileSink creates the output directory if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) Write(_ context.Context, ref string, img image.Image, rec mosaic.DatasetRecord) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("failed to encode mosaic %s: %w", ref, err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, ref), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write mosaic %s: %w", ref, err)
	}

	meta, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record for %s: %w", ref, err)
	}
	jsonName := strings.TrimSuffix(ref, filepath.Ext(ref)) + ".json"
	if err := os.WriteFile(filepath.Join(s.dir, jsonName), meta, 0o644); err != nil {
		return fmt.Errorf("failed to write record %s: %w", jsonName, err)
	}
	return nil
}

// SummaryFileName is the run summary document written next to the dataset.
const SummaryFileName = "dataset_summary.json"

// WriteSummary persists the run summary into the output directory,
// overwriting any summary from a previous run over the same directory.
func (s *FileSink) WriteSummary(sum RunSummary) error {
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, SummaryFileName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write run summary: %w", err)
	}
	return nil
}
