// main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/akhenakh/tilemosaic/pipeline"
	"github.com/akhenakh/tilemosaic/tiles"
)

const appName = "tilemosaic"

// Config holds all configuration for the application, loaded from environment variables.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`

	InputFile string `env:"INPUT_FILE,required"`
	OutputDir string `env:"OUTPUT_DIR" envDefault:"./output"`
	CacheDir  string `env:"CACHE_DIR" envDefault:"./tiles"`
	TileURL   string `env:"TILE_URL,required"`

	Zoom     int `env:"ZOOM" envDefault:"18"`
	GridSize int `env:"GRID_SIZE" envDefault:"5"`

	MaxConcurrentFetches int64         `env:"MAX_CONCURRENT_FETCHES" envDefault:"16"`
	MaxConcurrentPoints  int           `env:"MAX_CONCURRENT_POINTS" envDefault:"4"`
	RequestTimeout       time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	MaxRetries           int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay       time.Duration `env:"RETRY_BASE_DELAY" envDefault:"500ms"`
	RetryMaxDelay        time.Duration `env:"RETRY_MAX_DELAY" envDefault:"10s"`

	CacheMaxSize      int64  `env:"CACHE_MAX_SIZE" envDefault:"1024"`
	CacheItemsToPrune uint32 `env:"CACHE_ITEMS_TO_PRUNE" envDefault:"100"`

	UserAgent string `env:"USER_AGENT" envDefault:"tilemosaic/1.0"`

	// HTTPMetricsPort exposes Prometheus metrics for the duration of the
	// run; 0 disables the endpoint.
	HTTPMetricsPort int `env:"METRICS_PORT" envDefault:"0"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		fmt.Printf("failed to parse config: %+v\n", err)
		os.Exit(1)
	}

	logger := createLogger(cfg, appName)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	go func() {
		select {
		case <-interrupt:
			logger.Warn("received termination signal, cancelling run")
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	var metricsServer *http.Server
	if cfg.HTTPMetricsPort > 0 {
		metricsServer = newMetricsServer(cfg)
		g.Go(func() error {
			logger.Info("HTTP metrics server listening", "address", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				return fmt.Errorf("HTTP metrics server failed: %w", err)
			}
			return nil
		})
	}

	runErr := run(gctx, cfg, logger)

	// The batch is done; bring the metrics endpoint down.
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP metrics server shutdown error", "error", err)
		}
	}
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server group returned an error", "error", err)
	}

	if runErr != nil {
		logger.Error("run failed", "error", runErr)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	logger = logger.With("run", uuid.NewString())

	sourceID, err := tiles.SourceID(cfg.TileURL)
	if err != nil {
		return err
	}

	cache, err := tiles.NewDiskCache(cfg.CacheDir, sourceID)
	if err != nil {
		return err
	}

	fetcher, err := tiles.NewFetcher(cache, tiles.FetcherOptions{
		URLTemplate:       cfg.TileURL,
		UserAgent:         cfg.UserAgent,
		MaxConcurrent:     cfg.MaxConcurrentFetches,
		MaxRetries:        cfg.MaxRetries,
		BaseDelay:         cfg.RetryBaseDelay,
		MaxDelay:          cfg.RetryMaxDelay,
		Timeout:           cfg.RequestTimeout,
		CacheMaxSize:      cfg.CacheMaxSize,
		CacheItemsToPrune: cfg.CacheItemsToPrune,
	}, logger)
	if err != nil {
		return err
	}

	sink, err := pipeline.NewFileSink(cfg.OutputDir)
	if err != nil {
		return err
	}

	orch, err := pipeline.New(fetcher, sink, pipeline.Options{
		Zoom:                cfg.Zoom,
		GridSize:            cfg.GridSize,
		MaxConcurrentPoints: cfg.MaxConcurrentPoints,
	}, logger)
	if err != nil {
		return err
	}

	points, err := pipeline.LoadPoints(cfg.InputFile, logger)
	if err != nil {
		return err
	}
	logger.Info("loaded input points", "count", len(points), "source", cfg.InputFile)

	start := time.Now()
	res, err := orch.Run(ctx, points)

	sum := res.Summary(len(points), time.Since(start))
	logger.Info("run summary",
		"points", sum.Points,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"elapsed", sum.Elapsed)
	for _, f := range res.Failures {
		logger.Warn("unprocessed point", "point", f.PointID, "reason", f.Err)
	}
	if werr := sink.WriteSummary(sum); werr != nil {
		logger.Warn("failed to persist run summary", "error", werr)
	}

	return err
}

func newMetricsServer(cfg Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPMetricsPort),
		Handler: mux,
	}
}

func createLogger(cfg Config, appName string) *slog.Logger {
	var programLevel slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		programLevel = slog.LevelDebug
	case "INFO":
		programLevel = slog.LevelInfo
	case "WARN":
		programLevel = slog.LevelWarn
	case "ERROR":
		programLevel = slog.LevelError
	default:
		programLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     programLevel,
		AddSource: programLevel <= slog.LevelDebug,
	}).WithAttrs([]slog.Attr{slog.String("app", appName)})
	return slog.New(handler)
}
