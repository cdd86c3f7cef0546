package supplier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
)

// ErrNoSuppliers is returned when every provider failed. Callers surface
// it as an informational message, not a crash.
var ErrNoSuppliers = errors.New("supplier: no providers returned results")

// Cache receives every successfully resolved supplier. Implemented by the
// store; a nil cache disables the side effect (tests, one-shot CLI runs).
type Cache interface {
	// CacheSupplier persists one supplier scoped to (city, state) and
	// returns the cache row id.
	CacheSupplier(s Supplier, city, state string) (uint, error)
}

// Resolution is the outcome of a resolve: the ranked-ready supplier list,
// the geocoded query coordinate, and which provider served the request.
type Resolution struct {
	Lat          float64
	Lng          float64
	Suppliers    []Supplier
	ProviderUsed string
}

// Resolver tries providers in order until one succeeds and writes every
// resolved supplier to the cache. Cache writes are a side effect of
// resolution, not a separate step callers trigger.
type Resolver struct {
	providers []Provider
	cache     Cache
	out       io.Writer
}

// ResolverOpts holds parameters for creating a Resolver.
type ResolverOpts struct {
	Providers []Provider // tried in slice order
	Cache     Cache      // optional
	Out       io.Writer  // defaults to os.Stdout
}

// NewResolver creates a Resolver.
func NewResolver(opts ResolverOpts) (*Resolver, error) {
	if len(opts.Providers) == 0 {
		return nil, fmt.Errorf("supplier: resolver: at least one provider is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Resolver{providers: opts.Providers, cache: opts.Cache, out: out}, nil
}

// Resolve runs the fallback chain for (city, state). Unconfigured
// providers are skipped; any provider failure, including an empty result,
// falls through to the next. Distances are computed from the provider's
// geocoded coordinate before caching.
func (r *Resolver) Resolve(ctx context.Context, city, state string, radiusMi int) (*Resolution, error) {
	var lastErr error
	for _, p := range r.providers {
		if !p.Configured() {
			fmt.Fprintf(r.out, "supplier: resolver: skip %s (not configured)\n", p.Name())
			lastErr = ErrNotConfigured
			continue
		}
		fmt.Fprintf(r.out, "supplier: resolver: trying %s for %s, %s\n", p.Name(), city, state)
		res, err := p.Search(ctx, Query{City: city, State: state, RadiusMi: radiusMi})
		if err != nil {
			fmt.Fprintf(r.out, "supplier: resolver: %s failed: %v\n", p.Name(), err)
			lastErr = err
			continue
		}

		suppliers := r.finish(res, city, state)
		return &Resolution{
			Lat:          res.Lat,
			Lng:          res.Lng,
			Suppliers:    suppliers,
			ProviderUsed: p.Name(),
		}, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: last error: %v", ErrNoSuppliers, lastErr)
	}
	return nil, ErrNoSuppliers
}

// finish stamps distances and writes cache rows. Cache failures are
// logged, never propagated — a cache miss is not a lookup failure.
func (r *Resolver) finish(res *Result, city, state string) []Supplier {
	out := make([]Supplier, 0, len(res.Suppliers))
	for _, s := range res.Suppliers {
		s.DistanceMi = DistanceFrom(s, res.Lat, res.Lng)
		if r.cache != nil {
			id, err := r.cache.CacheSupplier(s, city, state)
			if err != nil {
				log.Printf("supplier: resolver: cache %q: %v", s.Name, err)
			} else {
				s.CacheID = id
			}
		}
		out = append(out, s)
	}
	return out
}
