// Package enrich attaches coordinates to records by geocoding their store
// location, resolving each distinct location at most once per run.
package enrich

import (
	"context"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/uber/h3-go/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/foodgeo/internal/model"
	"github.com/sells-group/foodgeo/internal/normalize"
	"github.com/sells-group/foodgeo/internal/resilience"
	"github.com/sells-group/foodgeo/pkg/geocode"
)

// Resolver looks up one location. geocode.Client satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, query string) (*geocode.Result, error)
}

// Stats counts the work an Enricher did.
type Stats struct {
	Locations int            `json:"locations"`
	Calls     int            `json:"calls"`
	CacheHits int            `json:"cache_hits"`
	Succeeded int            `json:"succeeded"`
	Failures  map[string]int `json:"failures,omitempty"`
}

// Enricher geocodes record locations. The cache belongs to the Enricher and
// lives as long as it does, so one Enricher should serve exactly one run.
type Enricher struct {
	resolver    Resolver
	limiter     *rate.Limiter
	breaker     *resilience.CircuitBreaker
	retry       resilience.RetryConfig
	concurrency int
	callTimeout time.Duration
	h3Res       int
	progress    bool

	mu    sync.Mutex
	cache map[string]model.GeoResult

	calls     atomic.Int64
	cacheHits atomic.Int64
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithConcurrency bounds the number of lookups in flight.
func WithConcurrency(n int) Option {
	return func(e *Enricher) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithMinInterval sets the minimum spacing between calls, shared by all workers.
// Zero disables limiting.
func WithMinInterval(d time.Duration) Option {
	return func(e *Enricher) {
		if d <= 0 {
			e.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		e.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithCallTimeout bounds each individual resolver call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Enricher) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithRetry sets the retry policy applied around each call.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(e *Enricher) { e.retry = cfg }
}

// WithCircuitBreaker sets the breaker configuration. Only transient failures
// count toward tripping it.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(e *Enricher) {
		cfg.ShouldTrip = resilience.IsTransient
		cfg.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("enrich: geocoder circuit state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		}
		e.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// WithH3Resolution sets the H3 resolution of the cell attached to geocoded records.
func WithH3Resolution(res int) Option {
	return func(e *Enricher) { e.h3Res = res }
}

// WithCache seeds the cache. Seeded locations are never looked up again.
func WithCache(entries map[string]model.GeoResult) Option {
	return func(e *Enricher) {
		for k, v := range entries {
			e.cache[k] = v
		}
	}
}

// WithProgress shows a progress bar on stderr when it is a terminal.
func WithProgress(enabled bool) Option {
	return func(e *Enricher) { e.progress = enabled }
}

// New creates an Enricher around resolver.
func New(resolver Resolver, opts ...Option) *Enricher {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("geocode", "resolve")
	e := &Enricher{
		resolver:    resolver,
		limiter:     rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
		retry:       retry,
		concurrency: 4,
		callTimeout: 10 * time.Second,
		h3Res:       7,
		cache:       make(map[string]model.GeoResult),
	}
	WithCircuitBreaker(resilience.DefaultCircuitBreakerConfig())(e)
	for _, o := range opts {
		o(e)
	}
	return e
}

// Enrich resolves every distinct location referenced by records and writes
// coordinates onto the records in place. It returns the records and one
// GeoResult per distinct location, sorted by key. Lookup failures leave the
// affected records without coordinates and are reported in the results; the
// only error is cancellation of ctx.
func (e *Enricher) Enrich(ctx context.Context, records []model.CleanRecord) ([]model.CleanRecord, []model.GeoResult, error) {
	queries := make(map[string]string)
	for i := range records {
		if !records[i].Stores.Valid {
			continue
		}
		key := normalize.LocationKey(records[i].Stores.Value)
		if key == "" {
			continue
		}
		if _, ok := queries[key]; !ok {
			queries[key] = records[i].Stores.Value
		}
	}

	keys := make([]string, 0, len(queries))
	for k := range queries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pending []string
	e.mu.Lock()
	for _, k := range keys {
		if _, ok := e.cache[k]; ok {
			e.cacheHits.Add(1)
			continue
		}
		pending = append(pending, k)
	}
	e.mu.Unlock()

	bar := e.newBar(len(pending))
	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for _, k := range pending {
		g.Go(func() error {
			res := e.lookup(ctx, k, queries[k])
			e.mu.Lock()
			e.cache[k] = res
			e.mu.Unlock()
			if bar != nil {
				_ = bar.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	if bar != nil {
		_ = bar.Finish()
	}

	if err := ctx.Err(); err != nil {
		return records, nil, eris.Wrap(err, "enrich: cancelled")
	}

	results := make([]model.GeoResult, 0, len(keys))
	e.mu.Lock()
	for _, k := range keys {
		results = append(results, e.cache[k])
	}
	e.mu.Unlock()

	byKey := make(map[string]model.GeoResult, len(results))
	for _, r := range results {
		byKey[r.Key] = r
	}
	for i := range records {
		r := &records[i]
		if !r.Stores.Valid {
			continue
		}
		res, ok := byKey[normalize.LocationKey(r.Stores.Value)]
		if !ok || !res.Success {
			continue
		}
		r.Latitude = model.SomeNumber(res.Latitude)
		r.Longitude = model.SomeNumber(res.Longitude)
		r.GeoLabel = res.Label
		r.GeoCity = res.City
		r.H3Cell = e.cell(res.Latitude, res.Longitude)
	}

	return records, results, nil
}

func (e *Enricher) lookup(ctx context.Context, key, query string) model.GeoResult {
	out := model.GeoResult{Key: key, Location: query}

	res, n, err := resilience.DoValCounted(ctx, e.retry, func(ctx context.Context) (*geocode.Result, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "enrich: rate limiter")
		}
		return resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (*geocode.Result, error) {
			callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
			defer cancel()
			e.calls.Add(1)
			return e.resolver.Resolve(callCtx, query)
		})
	})
	out.Attempts = n.Count

	if err != nil {
		out.ErrClass = string(resilience.ClassifyError(err))
		out.Err = err.Error()
		zap.L().Debug("enrich: lookup failed",
			zap.String("location", query),
			zap.String("class", out.ErrClass),
			zap.Int("attempts", n.Count),
			zap.Error(err),
		)
		return out
	}

	out.Success = true
	out.Latitude = res.Latitude
	out.Longitude = res.Longitude
	out.Label = res.Label
	out.City = res.City
	out.Score = res.Score
	out.Source = res.Source
	return out
}

func (e *Enricher) cell(lat, lng float64) string {
	c, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), e.h3Res)
	if err != nil {
		zap.L().Debug("enrich: h3 cell", zap.Float64("lat", lat), zap.Float64("lng", lng), zap.Error(err))
		return ""
	}
	return c.String()
}

func (e *Enricher) newBar(n int) *progressbar.ProgressBar {
	if !e.progress || n == 0 || !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetDescription("Geocoding"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// Stats reports the Enricher's counters so far.
func (e *Enricher) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{
		Locations: len(e.cache),
		Calls:     int(e.calls.Load()),
		CacheHits: int(e.cacheHits.Load()),
	}
	for _, r := range e.cache {
		if r.Success {
			s.Succeeded++
			continue
		}
		if s.Failures == nil {
			s.Failures = make(map[string]int)
		}
		s.Failures[r.ErrClass]++
	}
	return s
}

// Cache returns a copy of the current cache.
func (e *Enricher) Cache() map[string]model.GeoResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]model.GeoResult, len(e.cache))
	for k, v := range e.cache {
		out[k] = v
	}
	return out
}
