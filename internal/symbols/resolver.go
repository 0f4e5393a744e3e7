package symbols

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Armin-kho/crypto-price-bot/internal/sources"
)

// Ticker is a user-typed symbol. Raw keeps the first spelling seen, Key is
// the lower-case form used for lookups and deduplication.
type Ticker struct {
	Raw string
	Key string
}

// Normalize trims and dedupes tickers case-insensitively, keeping first-seen order.
func Normalize(raw []string) []Ticker {
	seen := make(map[string]bool, len(raw))
	out := make([]Ticker, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		key := strings.ToLower(r)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Ticker{Raw: r, Key: key})
	}
	return out
}

type Resolution struct {
	Ticker   Ticker
	Provider sources.Provider
	ID       string
	Found    bool
}

// Resolver maps tickers onto provider identifiers from in-memory tables.
// It never calls a provider while resolving.
type Resolver struct {
	log *zap.Logger

	mu        sync.RWMutex
	coingecko map[string]string            // symbol -> coin id
	binance   map[string]map[string]string // base symbol -> quote asset -> pair
}

func NewResolver(log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{log: log}
}

// Resolve returns one Resolution per ticker, in input order.
func (r *Resolver) Resolve(tickers []Ticker, p sources.Provider, fiat string) []Resolution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Resolution, len(tickers))
	for i, t := range tickers {
		res := Resolution{Ticker: t, Provider: p}
		switch p {
		case sources.ProviderCoinGecko:
			res.ID, res.Found = r.coinGeckoID(t.Key)
		case sources.ProviderBinance:
			res.ID, res.Found = r.binancePair(t.Key, fiat)
		}
		out[i] = res
	}
	return out
}

func (r *Resolver) coinGeckoID(symbol string) (string, bool) {
	if a, ok := BySymbol(symbol); ok && a.CoinGeckoID != "" {
		return a.CoinGeckoID, true
	}
	id, ok := r.coingecko[symbol]
	return id, ok
}

func (r *Resolver) binancePair(symbol, fiat string) (string, bool) {
	base, known := r.binanceBase(symbol)
	if !known {
		return "", false
	}
	quote, ok := sources.QuoteAsset(fiat)
	if !ok {
		// Resolved so the adapter can answer UnsupportedFiat for it.
		return base + strings.ToUpper(fiat), true
	}
	if r.binance == nil {
		return base + quote, true
	}
	pair, ok := r.binance[symbol][quote]
	return pair, ok
}

func (r *Resolver) binanceBase(symbol string) (string, bool) {
	if r.binance != nil {
		if _, ok := r.binance[symbol]; ok {
			return strings.ToUpper(symbol), true
		}
		return "", false
	}
	if a, ok := BySymbol(symbol); ok && a.BinanceBase != "" {
		return a.BinanceBase, true
	}
	return "", false
}

// Load replaces the catalog table of p. For CoinGecko the first id listed
// for a symbol wins.
func (r *Resolver) Load(p sources.Provider, listings []sources.Listing) {
	switch p {
	case sources.ProviderCoinGecko:
		table := make(map[string]string, len(listings))
		for _, l := range listings {
			if _, ok := table[l.Symbol]; !ok {
				table[l.Symbol] = l.ID
			}
		}
		r.mu.Lock()
		r.coingecko = table
		r.mu.Unlock()
	case sources.ProviderBinance:
		table := make(map[string]map[string]string, len(listings))
		for _, l := range listings {
			if table[l.Symbol] == nil {
				table[l.Symbol] = map[string]string{}
			}
			table[l.Symbol][l.Quote] = l.ID
		}
		r.mu.Lock()
		r.binance = table
		r.mu.Unlock()
	}
}

// Refresh reloads the table of p from its catalog. The previous table is
// kept when the catalog cannot be read.
func (r *Resolver) Refresh(ctx context.Context, p sources.Provider, cat sources.Catalog) error {
	listings, err := cat.Listings(ctx)
	if err != nil {
		return fmt.Errorf("refresh %s symbols: %w", p, err)
	}
	if len(listings) == 0 {
		return fmt.Errorf("refresh %s symbols: empty catalog", p)
	}
	r.Load(p, listings)
	r.log.Info("symbol table refreshed", zap.String("provider", string(p)), zap.Int("listings", len(listings)))
	return nil
}

// Size reports how many catalog symbols are loaded for p.
func (r *Resolver) Size(p sources.Provider) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch p {
	case sources.ProviderCoinGecko:
		return len(r.coingecko)
	case sources.ProviderBinance:
		return len(r.binance)
	}
	return 0
}
