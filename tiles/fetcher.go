package tiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder for tile payloads
	_ "image/png"  // register PNG decoder for tile payloads
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/karlseguin/ccache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/akhenakh/tilemosaic/slippy"
)

const memCacheTTL = 1 * time.Hour

// FetcherOptions configures a Fetcher. Zero delay values fall back to
// sensible defaults; everything else must be set.
type FetcherOptions struct {
	// URLTemplate is the tile source URL parameterized by {z}, {x} and {y}.
	URLTemplate string
	UserAgent   string

	// MaxConcurrent bounds in-flight network requests across the whole
	// process, not per grid.
	MaxConcurrent int64

	// MaxRetries is the total number of attempts per tile before it is
	// declared permanently failed for this request.
	MaxRetries int

	BaseDelay time.Duration
	MaxDelay  time.Duration
	Timeout   time.Duration

	// CacheMaxSize and CacheItemsToPrune size the in-memory LRU of decoded
	// tiles that fronts the disk cache.
	CacheMaxSize      int64
	CacheItemsToPrune uint32
}

// Fetcher retrieves tiles, consulting the in-memory LRU and the disk cache
// before the network. Concurrent requests for the same tile index share one
// underlying fetch for the lifetime of the process.
type Fetcher struct {
	client    *http.Client
	template  string
	userAgent string
	disk      *DiskCache
	logger    *slog.Logger

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	// memCache holds decoded, normalized tile images so overlapping grids
	// skip both disk I/O and a second PNG decode.
	memCache *ccache.Cache[image.Image]

	// sem bounds in-flight network requests process-wide.
	sem *semaphore.Weighted

	// inflight de-duplicates concurrent fetches for the same tile key.
	inflight singleflight.Group
}

// SourceID derives the cache source identifier from a tile URL template: the
// host of the template, so switching providers never aliases cache entries.
func SourceID(urlTemplate string) (string, error) {
	concrete := strings.NewReplacer("{z}", "0", "{x}", "0", "{y}", "0").Replace(urlTemplate)
	u, err := url.Parse(concrete)
	if err != nil {
		return "", fmt.Errorf("malformed tile source template %q: %w", urlTemplate, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("tile source template %q has no host", urlTemplate)
	}
	return u.Host, nil
}

// NewFetcher validates the options and builds a Fetcher backed by the given
// disk cache.
func NewFetcher(disk *DiskCache, opts FetcherOptions, logger *slog.Logger) (*Fetcher, error) {
	for _, ph := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(opts.URLTemplate, ph) {
			return nil, fmt.Errorf("tile source template %q is missing the %s placeholder", opts.URLTemplate, ph)
		}
	}
	if opts.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max concurrent fetches must be positive, got %d", opts.MaxConcurrent)
	}
	if opts.MaxRetries <= 0 {
		return nil, fmt.Errorf("max retries must be positive, got %d", opts.MaxRetries)
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 10 * time.Second
	}
	if opts.CacheMaxSize <= 0 {
		opts.CacheMaxSize = 1024
	}
	if opts.CacheItemsToPrune == 0 {
		opts.CacheItemsToPrune = 100
	}

	return &Fetcher{
		client:     &http.Client{Timeout: opts.Timeout},
		template:   opts.URLTemplate,
		userAgent:  opts.UserAgent,
		disk:       disk,
		logger:     logger,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
		memCache: ccache.New(ccache.Configure[image.Image]().
			MaxSize(opts.CacheMaxSize).ItemsToPrune(opts.CacheItemsToPrune)),
		sem: semaphore.NewWeighted(opts.MaxConcurrent),
	}, nil
}

func (f *Fetcher) tileURL(t slippy.TileIndex) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(t.Z),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
	)
	return r.Replace(f.template)
}

// FetchTile returns the image for a single tile, from cache when possible.
// Failures are returned as *TileError wrapping the underlying cause;
// permanent source-side absence unwraps to ErrTileNotFound.
func (f *Fetcher) FetchTile(ctx context.Context, tile slippy.TileIndex) (*TileImage, error) {
	key := tile.String()

	if item := f.memCache.Get(key); item != nil && !item.Expired() {
		cacheHits.WithLabelValues("memory").Inc()
		return &TileImage{Index: tile, Image: item.Value()}, nil
	}

	v, err, _ := f.inflight.Do(key, func() (interface{}, error) {
		return f.loadTile(ctx, tile, key)
	})
	if err != nil {
		return nil, &TileError{Tile: tile, Err: err}
	}
	return &TileImage{Index: tile, Image: v.(image.Image)}, nil
}

// FetchGrid fetches every tile of the grid and returns the images in the
// grid's deterministic row-major order, regardless of the order network
// responses arrive in. If any tile is permanently unobtainable the whole
// call fails with an error naming each failed tile.
func (f *Fetcher) FetchGrid(ctx context.Context, grid *slippy.Grid) ([]*TileImage, error) {
	images := make([]*TileImage, len(grid.Tiles))
	errs := make([]error, len(grid.Tiles))

	var wg sync.WaitGroup
	for i, tile := range grid.Tiles {
		wg.Add(1)
		go func(i int, tile slippy.TileIndex) {
			defer wg.Done()
			images[i], errs[i] = f.FetchTile(ctx, tile)
		}(i, tile)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return images, nil
}

// loadTile resolves one tile through disk cache then network. Runs inside
// the single-flight group, so at most one execution per key at a time.
func (f *Fetcher) loadTile(ctx context.Context, tile slippy.TileIndex, key string) (image.Image, error) {
	data, ok, err := f.disk.Get(tile)
	switch {
	case err != nil:
		// Degraded mode: the run continues network-only for this tile.
		f.logger.Warn("tile cache read failed, falling back to network", "tile", key, "error", err)
	case ok:
		img, decErr := f.decode(tile, data)
		if decErr == nil {
			cacheHits.WithLabelValues("disk").Inc()
			f.memCache.Set(key, img, memCacheTTL)
			return img, nil
		}
		f.logger.Warn("cached tile payload is malformed, refetching", "tile", key, "error", decErr)
	}
	cacheMisses.Inc()

	img, raw, err := f.download(ctx, tile)
	if err != nil {
		fetchesTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	fetchesTotal.WithLabelValues("success").Inc()

	// Cache writes are best-effort: a failed write only forfeits future
	// cache benefit, the fetched image is still usable.
	if err := f.disk.Put(tile, raw); err != nil {
		f.logger.Warn("tile cache write failed", "tile", key, "error", err)
	}
	f.memCache.Set(key, img, memCacheTTL)
	return img, nil
}

// download runs the retry loop for one tile. 4xx responses are permanent and
// abort immediately; timeouts, 5xx and malformed payloads are retried with
// capped, jittered exponential backoff.
func (f *Fetcher) download(ctx context.Context, tile slippy.TileIndex) (image.Image, []byte, error) {
	u := f.tileURL(tile)
	var lastErr error
	for attempt := 0; attempt < f.maxRetries; attempt++ {
		if attempt > 0 {
			fetchRetries.Inc()
			if err := sleepCtx(ctx, f.backoff(attempt)); err != nil {
				return nil, nil, err
			}
		}

		img, raw, err := f.attempt(ctx, u, tile)
		if err == nil {
			return img, raw, nil
		}
		if errors.Is(err, ErrTileNotFound) {
			return nil, nil, err
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		lastErr = err
		f.logger.Debug("tile fetch attempt failed", "tile", tile.String(), "attempt", attempt+1, "error", err)
	}
	return nil, nil, fmt.Errorf("giving up after %d attempts: %w", f.maxRetries, lastErr)
}

// attempt performs a single network request under the global semaphore.
func (f *Fetcher) attempt(ctx context.Context, u string, tile slippy.TileIndex) (image.Image, []byte, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	defer f.sem.Release(1)

	timer := prometheus.NewTimer(fetchDuration)
	defer timer.ObserveDuration()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, nil, fmt.Errorf("%w (HTTP %d)", ErrTileNotFound, resp.StatusCode)
	default:
		return nil, nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if len(raw) == 0 {
		return nil, nil, errors.New("empty tile payload")
	}

	img, err := f.decode(tile, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("malformed tile payload: %w", err)
	}
	return img, raw, nil
}

// decode parses a tile payload and normalizes it to the standard 256x256
// size. Off-size tiles are resampled rather than rejected, matching what
// real-world providers occasionally serve.
func (f *Fetcher) decode(tile slippy.TileIndex, data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() != slippy.TileSize || b.Dy() != slippy.TileSize {
		f.logger.Warn("unexpected tile dimensions, resampling",
			"tile", tile.String(), "width", b.Dx(), "height", b.Dy())
		img = imaging.Resize(img, slippy.TileSize, slippy.TileSize, imaging.Lanczos)
	}
	return img, nil
}

// backoff returns the jittered delay before the given retry attempt:
// base*2^(attempt-1) capped at maxDelay, then jittered into [d/2, d].
func (f *Fetcher) backoff(attempt int) time.Duration {
	d := time.Duration(float64(f.baseDelay) * math.Exp2(float64(attempt-1)))
	if d > f.maxDelay || d <= 0 {
		d = f.maxDelay
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
