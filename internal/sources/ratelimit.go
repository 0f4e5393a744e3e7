package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limited spaces calls to an adapter so the upstream quota holds across requests.
type Limited struct {
	inner Adapter
	lim   *rate.Limiter
}

// WithRateLimit wraps a with a token bucket of rps tokens per second.
// A non-positive rps returns a unchanged.
func WithRateLimit(a Adapter, rps float64, burst int) Adapter {
	if rps <= 0 {
		return a
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{inner: a, lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *Limited) Provider() Provider { return l.inner.Provider() }

func (l *Limited) Fetch(ctx context.Context, ids []string, fiat string) (map[string]Price, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.inner.Fetch(ctx, ids, fiat)
}

func (l *Limited) Listings(ctx context.Context) ([]Listing, error) {
	cat, ok := l.inner.(Catalog)
	if !ok {
		return nil, fmt.Errorf("%s: no catalog", l.inner.Provider())
	}
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return cat.Listings(ctx)
}

func (l *Limited) wait(ctx context.Context) error {
	if err := l.lim.Wait(ctx); err != nil {
		// Wait fails early when the deadline is closer than the next token.
		return &ProviderError{Provider: l.inner.Provider(), Kind: RateLimited, Err: err}
	}
	return nil
}

// Metrics receives upstream and cache observations.
type Metrics interface {
	ObserveUpstream(provider, outcome string, d time.Duration)
	CacheHit(provider string)
	CacheMiss(provider string)
}

type instrumented struct {
	Adapter
	m Metrics
}

// Instrument reports the duration and outcome of every Fetch to m.
func Instrument(a Adapter, m Metrics) Adapter {
	if m == nil {
		return a
	}
	return &instrumented{Adapter: a, m: m}
}

func (i *instrumented) Fetch(ctx context.Context, ids []string, fiat string) (map[string]Price, error) {
	start := time.Now()
	out, err := i.Adapter.Fetch(ctx, ids, fiat)
	outcome := "ok"
	var pe *ProviderError
	if errors.As(err, &pe) {
		outcome = pe.Kind.String()
	} else if err != nil {
		outcome = "error"
	}
	i.m.ObserveUpstream(string(i.Adapter.Provider()), outcome, time.Since(start))
	return out, err
}

func (i *instrumented) Listings(ctx context.Context) ([]Listing, error) {
	cat, ok := i.Adapter.(Catalog)
	if !ok {
		return nil, fmt.Errorf("%s: no catalog", i.Adapter.Provider())
	}
	return cat.Listings(ctx)
}
