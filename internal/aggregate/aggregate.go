package aggregate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Armin-kho/crypto-price-bot/internal/logger"
	"github.com/Armin-kho/crypto-price-bot/internal/sources"
	"github.com/Armin-kho/crypto-price-bot/internal/symbols"
)

type State int

const (
	Resolving State = iota
	Fetching
	Merging
	Done
)

func (s State) String() string {
	switch s {
	case Resolving:
		return "resolving"
	case Fetching:
		return "fetching"
	case Merging:
		return "merging"
	case Done:
		return "done"
	}
	return "unknown"
}

type OutcomeKind int

const (
	OutcomeQuote OutcomeKind = iota + 1
	OutcomeNotFound
	OutcomeProviderError
)

type Quote struct {
	Ticker    symbols.Ticker
	Fiat      string
	Price     decimal.Decimal
	Change24h *decimal.Decimal
	Provider  sources.Provider
	FetchedAt time.Time
}

// Outcome is exactly one of a quote, a not-found marker or a provider error.
type Outcome struct {
	Kind   OutcomeKind
	Ticker symbols.Ticker
	Quote  Quote
	Err    *sources.ProviderError
}

// Request carries raw user input. Empty Fiat or Provider select the defaults.
type Request struct {
	Tickers  []string
	Fiat     string
	Provider string
}

type Result struct {
	State    State
	Fiat     string
	Provider sources.Provider
	Outcomes []Outcome
}

// ConfigurationError rejects a request before any upstream call.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

type Resolver interface {
	Resolve(tickers []symbols.Ticker, p sources.Provider, fiat string) []symbols.Resolution
}

type Config struct {
	DefaultFiat     string
	DefaultProvider sources.Provider
	// Fallback answers tickers the requested provider cannot resolve; empty disables it.
	Fallback       sources.Provider
	SupportedFiats []string
	Retry          RetryPolicy
}

type Aggregator struct {
	cfg      Config
	resolver Resolver
	cache    *sources.QuoteCache
	adapters map[sources.Provider]sources.Adapter
	log      *zap.Logger
}

func New(cfg Config, resolver Resolver, cache *sources.QuoteCache, log *zap.Logger, adapters ...sources.Adapter) (*Aggregator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Aggregator{
		cfg:      cfg,
		resolver: resolver,
		cache:    cache,
		adapters: make(map[sources.Provider]sources.Adapter, len(adapters)),
		log:      log,
	}
	for _, ad := range adapters {
		a.adapters[ad.Provider()] = ad
	}
	a.cfg.DefaultFiat = strings.ToLower(cfg.DefaultFiat)
	a.cfg.SupportedFiats = make([]string, len(cfg.SupportedFiats))
	for i, f := range cfg.SupportedFiats {
		a.cfg.SupportedFiats[i] = strings.ToLower(f)
	}

	if _, ok := a.adapters[cfg.DefaultProvider]; !ok {
		return nil, &ConfigurationError{Field: "default_provider", Value: string(cfg.DefaultProvider), Reason: "no adapter configured"}
	}
	if cfg.Fallback != "" {
		if _, ok := a.adapters[cfg.Fallback]; !ok {
			return nil, &ConfigurationError{Field: "fallback_provider", Value: string(cfg.Fallback), Reason: "no adapter configured"}
		}
	}
	if err := a.checkFiat("default_fiat", a.cfg.DefaultFiat); err != nil {
		return nil, err
	}
	return a, nil
}

// SupportedFiats returns the accepted fiat codes, lower-case.
func (a *Aggregator) SupportedFiats() []string { return slices.Clone(a.cfg.SupportedFiats) }

// ValidateFiat normalizes fiat or explains why it is rejected.
func (a *Aggregator) ValidateFiat(fiat string) (string, error) {
	fiat = strings.ToLower(strings.TrimSpace(fiat))
	return fiat, a.checkFiat("fiat", fiat)
}

// ValidateProvider parses name and checks that an adapter serves it.
func (a *Aggregator) ValidateProvider(name string) (sources.Provider, error) {
	p, ok := sources.ParseProvider(name)
	if !ok {
		return "", &ConfigurationError{Field: "provider", Value: name, Reason: "unknown provider"}
	}
	if _, ok := a.adapters[p]; !ok {
		return "", &ConfigurationError{Field: "provider", Value: name, Reason: "provider not enabled"}
	}
	return p, nil
}

func (a *Aggregator) checkFiat(field, fiat string) error {
	if len(fiat) != 3 || strings.IndexFunc(fiat, func(r rune) bool { return r < 'a' || r > 'z' }) >= 0 {
		return &ConfigurationError{Field: field, Value: fiat, Reason: "expected a 3-letter currency code"}
	}
	if len(a.cfg.SupportedFiats) > 0 && !slices.Contains(a.cfg.SupportedFiats, fiat) {
		return &ConfigurationError{Field: field, Value: fiat, Reason: "not supported"}
	}
	return nil
}

// ResolveAndQuote answers one request. Provider failures and unknown tickers
// become outcomes; only a ConfigurationError is returned as an error.
func (a *Aggregator) ResolveAndQuote(ctx context.Context, req Request) (Result, error) {
	log := logger.FromContext(ctx, a.log)

	provider := a.cfg.DefaultProvider
	if req.Provider != "" {
		p, err := a.ValidateProvider(req.Provider)
		if err != nil {
			return Result{}, err
		}
		provider = p
	}
	fiat := a.cfg.DefaultFiat
	if strings.TrimSpace(req.Fiat) != "" {
		f, err := a.ValidateFiat(req.Fiat)
		if err != nil {
			return Result{}, err
		}
		fiat = f
	}
	tickers := symbols.Normalize(req.Tickers)
	if len(tickers) == 0 {
		return Result{}, &ConfigurationError{Field: "tickers", Reason: "at least one ticker is required"}
	}

	res := Result{State: Resolving, Fiat: fiat, Provider: provider}
	log.Debug("aggregate", zap.Stringer("state", res.State), zap.Int("tickers", len(tickers)), zap.String("provider", string(provider)), zap.String("fiat", fiat))
	routes := a.resolve(tickers, provider, fiat)

	res.State = Fetching
	groups := group(routes)
	log.Debug("aggregate", zap.Stringer("state", res.State), zap.Int("groups", len(groups)))
	fetched := a.fetchAll(ctx, log, groups, fiat)

	res.State = Merging
	res.Outcomes = merge(routes, fetched, fiat)

	res.State = Done
	log.Debug("aggregate", zap.Stringer("state", res.State), zap.Int("outcomes", len(res.Outcomes)))
	return res, nil
}

// resolve routes every ticker to the preferred provider, or to the fallback
// when only the fallback knows it.
func (a *Aggregator) resolve(tickers []symbols.Ticker, provider sources.Provider, fiat string) []symbols.Resolution {
	routes := a.resolver.Resolve(tickers, provider, fiat)

	fallback := a.cfg.Fallback
	if fallback == "" || fallback == provider {
		return routes
	}
	var missing []int
	var retry []symbols.Ticker
	for i, r := range routes {
		if !r.Found {
			missing = append(missing, i)
			retry = append(retry, r.Ticker)
		}
	}
	if len(retry) == 0 {
		return routes
	}
	for j, r := range a.resolver.Resolve(retry, fallback, fiat) {
		if r.Found {
			routes[missing[j]] = r
		}
	}
	return routes
}

type batch struct {
	provider sources.Provider
	ids      []string
}

func group(routes []symbols.Resolution) []batch {
	byProvider := map[sources.Provider][]string{}
	for _, r := range routes {
		if r.Found {
			byProvider[r.Provider] = append(byProvider[r.Provider], r.ID)
		}
	}
	var out []batch
	for _, p := range sources.Providers {
		if ids, ok := byProvider[p]; ok {
			out = append(out, batch{provider: p, ids: ids})
		}
	}
	return out
}

type fetchResult struct {
	prices map[string]sources.Price
	err    *sources.ProviderError
}

func (a *Aggregator) fetchAll(ctx context.Context, log *zap.Logger, groups []batch, fiat string) map[sources.Provider]fetchResult {
	out := make(map[sources.Provider]fetchResult, len(groups))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	// Failures become outcomes, so every batch runs to completion.
	for _, b := range groups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := sources.NewCacheKey(b.provider, b.ids, fiat)
			prices, err := a.cache.GetOrFetch(ctx, key, a.fetcher(log, a.adapters[b.provider], key))

			r := fetchResult{prices: make(map[string]sources.Price, len(prices))}
			if err != nil {
				r.err = asProviderError(b.provider, err)
				log.Warn("upstream batch failed", zap.String("provider", string(b.provider)), zap.Stringer("kind", r.err.Kind), zap.Error(err))
			}
			for _, p := range prices {
				r.prices[p.ID] = p
			}
			mu.Lock()
			out[b.provider] = r
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

func (a *Aggregator) fetcher(log *zap.Logger, ad sources.Adapter, key sources.CacheKey) sources.FetchFunc {
	return func(ctx context.Context) ([]sources.Price, error) {
		var got map[string]sources.Price
		err := a.cfg.Retry.run(ctx, log, func() error {
			m, err := ad.Fetch(ctx, key.IDs, key.Fiat)
			if err != nil {
				return err
			}
			got = m
			return nil
		})
		if err != nil {
			return nil, err
		}
		prices := make([]sources.Price, 0, len(got))
		for _, id := range key.IDs {
			if p, ok := got[id]; ok {
				prices = append(prices, p)
			}
		}
		return prices, nil
	}
}

func merge(routes []symbols.Resolution, fetched map[sources.Provider]fetchResult, fiat string) []Outcome {
	out := make([]Outcome, len(routes))
	for i, r := range routes {
		o := Outcome{Kind: OutcomeNotFound, Ticker: r.Ticker}
		if r.Found {
			f := fetched[r.Provider]
			if f.err != nil {
				o.Kind = OutcomeProviderError
				o.Err = f.err
			} else if p, ok := f.prices[r.ID]; ok {
				o.Kind = OutcomeQuote
				o.Quote = Quote{
					Ticker:    r.Ticker,
					Fiat:      fiat,
					Price:     p.Value,
					Change24h: p.Change24h,
					Provider:  r.Provider,
					FetchedAt: p.FetchedAt,
				}
			}
		}
		out[i] = o
	}
	return out
}

func asProviderError(p sources.Provider, err error) *sources.ProviderError {
	var pe *sources.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	// Context expiry while waiting on a flight.
	return &sources.ProviderError{Provider: p, Kind: sources.Unreachable, Err: err}
}
