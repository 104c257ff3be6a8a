// Package pipeline drives point records through grid planning, tile
// fetching, mosaic assembly and record emission, fanning out over the input
// collection under a bounded level of parallelism.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/akhenakh/tilemosaic/mosaic"
	"github.com/akhenakh/tilemosaic/slippy"
	"github.com/akhenakh/tilemosaic/tiles"
)

var pointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tilemosaic_points_total",
	Help: "Processed points by outcome.",
}, []string{"outcome"})

// Options configures a pipeline run. Validation happens at construction,
// before any point is touched.
type Options struct {
	Zoom     int
	GridSize int

	// MaxConcurrentPoints bounds how many point pipelines run at once. This
	// is independent of the fetcher's network semaphore: point concurrency
	// costs memory for held rasters, fetch concurrency costs sockets.
	MaxConcurrentPoints int
}

// Failure is one point that could not be completed, with the reason (which
// names the unobtainable tile when the grid could not be filled).
type Failure struct {
	PointID string
	Err     error
}

// Results aggregates a run's outcomes. Records may appear in any order
// relative to the input; order across points is not part of the contract.
type Results struct {
	Records  []mosaic.DatasetRecord
	Failures []Failure
}

// RunSummary is the machine-readable counterpart of the run summary log
// line, persisted alongside the dataset so downstream tooling can audit a
// run without parsing logs.
type RunSummary struct {
	Points      int              `json:"points"`
	Succeeded   int              `json:"succeeded"`
	Failed      int              `json:"failed"`
	SuccessRate float64          `json:"success_rate"`
	Elapsed     string           `json:"elapsed"`
	Failures    []FailureSummary `json:"failures,omitempty"`
}

// FailureSummary is one unprocessed point in a RunSummary.
type FailureSummary struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Summary condenses the results into a RunSummary. total is the number of
// input points, which can exceed succeeded+failed when the run was cancelled
// before every point was scheduled.
func (r *Results) Summary(total int, elapsed time.Duration) RunSummary {
	s := RunSummary{
		Points:    total,
		Succeeded: len(r.Records),
		Failed:    len(r.Failures),
		Elapsed:   elapsed.Round(time.Millisecond).String(),
	}
	if total > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(total)
	}
	for _, f := range r.Failures {
		s.Failures = append(s.Failures, FailureSummary{ID: f.PointID, Reason: f.Err.Error()})
	}
	return s
}

// Orchestrator runs the per-point pipeline across a point collection.
type Orchestrator struct {
	fetcher *tiles.Fetcher
	sink    Sink
	opts    Options
	logger  *slog.Logger
}

// New validates the options and builds an Orchestrator. A nil sink is
// allowed for callers that only want records.
func New(fetcher *tiles.Fetcher, sink Sink, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	if opts.Zoom < slippy.MinZoom || opts.Zoom > slippy.MaxZoom {
		return nil, fmt.Errorf("zoom %d outside supported range [%d, %d]", opts.Zoom, slippy.MinZoom, slippy.MaxZoom)
	}
	if opts.GridSize <= 0 || opts.GridSize%2 == 0 {
		return nil, fmt.Errorf("grid size must be a positive odd integer, got %d", opts.GridSize)
	}
	if opts.MaxConcurrentPoints <= 0 {
		return nil, fmt.Errorf("max concurrent points must be positive, got %d", opts.MaxConcurrentPoints)
	}
	return &Orchestrator{fetcher: fetcher, sink: sink, opts: opts, logger: logger}, nil
}

// Run processes every point and collects per-point outcomes. A point's
// failure never aborts the run; cancellation of ctx stops scheduling new
// points, abandons in-flight fetches, and returns the results completed so
// far together with the context's error.
func (o *Orchestrator) Run(ctx context.Context, points []GeoPoint) (*Results, error) {
	o.logger.Info("starting pipeline run",
		"points", len(points),
		"zoom", o.opts.Zoom,
		"grid_size", o.opts.GridSize,
		"max_concurrent_points", o.opts.MaxConcurrentPoints)

	res := &Results{}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(o.opts.MaxConcurrentPoints)

	for _, p := range points {
		if ctx.Err() != nil {
			break
		}
		p := p
		g.Go(func() error {
			rec, err := o.processPoint(ctx, p)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil && ctx.Err() != nil:
				// Abandoned mid-flight; not a point-level verdict.
			case err != nil:
				pointsTotal.WithLabelValues("failure").Inc()
				o.logger.Warn("point failed", "point", p.ID, "error", err)
				res.Failures = append(res.Failures, Failure{PointID: p.ID, Err: err})
			default:
				pointsTotal.WithLabelValues("success").Inc()
				res.Records = append(res.Records, *rec)
			}
			return nil
		})
	}
	g.Wait()

	o.logger.Info("pipeline run finished",
		"succeeded", len(res.Records),
		"failed", len(res.Failures))
	return res, ctx.Err()
}

// processPoint drives one point through the full pipeline. The mosaic raster
// is owned by this invocation and handed to the sink; nothing retains it
// afterwards.
func (o *Orchestrator) processPoint(ctx context.Context, p GeoPoint) (*mosaic.DatasetRecord, error) {
	grid, local, err := slippy.PlanGrid(p.Lon, p.Lat, o.opts.Zoom, o.opts.GridSize)
	if err != nil {
		return nil, err
	}

	images, err := o.fetcher.FetchGrid(ctx, grid)
	if err != nil {
		return nil, fmt.Errorf("grid incomplete: %w", err)
	}

	m, err := mosaic.Assemble(grid, images)
	if err != nil {
		return nil, err
	}

	pixel, err := grid.MapPoint(local)
	if err != nil {
		return nil, err
	}

	ref := mosaic.ImageRef(p.ID, grid.Center)
	rec := mosaic.BuildRecord(p.ID, grid.Center, ref, pixel)

	if o.sink != nil {
		if err := o.sink.Write(ctx, ref, m, rec); err != nil {
			return nil, fmt.Errorf("failed to persist mosaic: %w", err)
		}
	}

	o.logger.Debug("point completed", "point", p.ID, "image", ref,
		"pixel_x", pixel.X, "pixel_y", pixel.Y)
	return &rec, nil
}
