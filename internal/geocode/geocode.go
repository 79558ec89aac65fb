// Package geocode wraps an injected geocoding provider with a cache, a
// shared rate limiter, and a per-run call ceiling. Lookup failures
// degrade to a nil result; they never propagate into the pipeline.
package geocode

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/casaops/harvester/internal/listing"
	"github.com/casaops/harvester/internal/logger"
)

// Geocoder resolves free-text locations to coordinates. Implementations
// are external providers injected at run start.
type Geocoder interface {
	Geocode(ctx context.Context, location string) (*listing.Coordinates, error)
}

// Func adapts a plain function to Geocoder.
type Func func(ctx context.Context, location string) (*listing.Coordinates, error)

// Geocode implements Geocoder.
func (f Func) Geocode(ctx context.Context, location string) (*listing.Coordinates, error) {
	return f(ctx, location)
}

// Cache stores resolved coordinates keyed by location text. A cached
// nil result is a valid entry: known-unresolvable locations are not
// retried within the cache's lifetime.
type Cache interface {
	Get(ctx context.Context, location string) (*listing.Coordinates, bool, error)
	Set(ctx context.Context, location string, coords *listing.Coordinates) error
}

// Default limits. One outbound call per second matches common free-tier
// provider policies.
const (
	DefaultCallsPerSecond = 1
	DefaultMaxCalls       = 200
)

// Enricher fronts the provider for all extractor workers. A single rate
// limiter serializes outbound calls regardless of worker count.
type Enricher struct {
	provider Geocoder
	cache    Cache
	limiter  *rate.Limiter
	log      logger.Interface

	mu       sync.Mutex
	calls    int
	maxCalls int
}

// Options configures an Enricher.
type Options struct {
	// CallsPerSecond bounds outbound provider calls; zero means the default.
	CallsPerSecond float64
	// MaxCalls caps provider calls for the whole run; zero means the
	// default, negative means unlimited.
	MaxCalls int
}

// NewEnricher creates an Enricher over a provider and cache. The cache
// may be nil, in which case every lookup hits the limiter.
func NewEnricher(provider Geocoder, cache Cache, opts Options, log logger.Interface) *Enricher {
	if opts.CallsPerSecond <= 0 {
		opts.CallsPerSecond = DefaultCallsPerSecond
	}
	if opts.MaxCalls == 0 {
		opts.MaxCalls = DefaultMaxCalls
	}
	if log == nil {
		log = logger.NewNoOp()
	}
	return &Enricher{
		provider: provider,
		cache:    cache,
		limiter:  rate.NewLimiter(rate.Limit(opts.CallsPerSecond), 1),
		maxCalls: opts.MaxCalls,
		log:      log.WithComponent("geocode"),
	}
}

// Calls returns how many provider calls the run has made.
func (e *Enricher) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Lookup resolves a location. It returns nil when the location is empty,
// the cache holds a negative entry, the call ceiling is reached, or the
// provider fails. It never returns an error to the caller.
func (e *Enricher) Lookup(ctx context.Context, location string) *listing.Coordinates {
	if e == nil || e.provider == nil || location == "" {
		return nil
	}

	if e.cache != nil {
		coords, ok, err := e.cache.Get(ctx, location)
		if err != nil {
			e.log.Warn("geocode cache read failed", "location", location, "error", err)
		} else if ok {
			return coords
		}
	}

	if !e.reserveCall() {
		e.log.Debug("geocode call ceiling reached", "max_calls", e.maxCalls)
		return nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil
	}

	coords, err := e.provider.Geocode(ctx, location)
	if err != nil {
		e.log.Warn("geocode lookup failed", "location", location, "error", err)
		return nil
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, location, coords); err != nil {
			e.log.Warn("geocode cache write failed", "location", location, "error", err)
		}
	}

	return coords
}

// reserveCall claims one slot under the run ceiling.
func (e *Enricher) reserveCall() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.maxCalls > 0 && e.calls >= e.maxCalls {
		return false
	}
	e.calls++
	return true
}

// MemoryCache is the in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*listing.Coordinates
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*listing.Coordinates)}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, location string) (*listing.Coordinates, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	coords, ok := c.entries[location]
	return coords, ok, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, location string, coords *listing.Coordinates) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[location] = coords
	return nil
}
