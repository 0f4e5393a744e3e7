package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Provider string

const (
	ProviderCoinGecko Provider = "coingecko"
	ProviderBinance   Provider = "binance"
)

// Providers lists every supported provider in display order.
var Providers = []Provider{ProviderCoinGecko, ProviderBinance}

// ParseProvider accepts a provider name in any case.
func ParseProvider(s string) (Provider, bool) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderCoinGecko:
		return ProviderCoinGecko, true
	case ProviderBinance:
		return ProviderBinance, true
	}
	return "", false
}

// Title is the human-readable provider name.
func (p Provider) Title() string {
	switch p {
	case ProviderCoinGecko:
		return "CoinGecko"
	case ProviderBinance:
		return "Binance"
	}
	return string(p)
}

// Price is one provider-native quote for a provider identifier.
type Price struct {
	ID        string
	Value     decimal.Decimal
	Change24h *decimal.Decimal // percent, nil when the provider did not report it
	FetchedAt time.Time
}

// Adapter fetches quotes for a batch of provider identifiers.
// Implementations must be safe for concurrent use and must not retry.
// Identifiers that the provider does not know are absent from the result.
type Adapter interface {
	Provider() Provider
	Fetch(ctx context.Context, ids []string, fiat string) (map[string]Price, error)
}

// Listing is one entry of a provider catalog.
type Listing struct {
	Symbol string // lower-case ticker
	ID     string // provider identifier
	Quote  string // quote asset for pair-based providers, empty otherwise
}

// Catalog is implemented by adapters that can list their assets.
type Catalog interface {
	Listings(ctx context.Context) ([]Listing, error)
}

type ErrorKind int

const (
	Unreachable ErrorKind = iota + 1
	RateLimited
	UnsupportedFiat
	MalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case RateLimited:
		return "rate_limited"
	case UnsupportedFiat:
		return "unsupported_fiat"
	case MalformedResponse:
		return "malformed_response"
	}
	return "unknown"
}

// Retryable reports whether another attempt may succeed.
func (k ErrorKind) Retryable() bool {
	return k == Unreachable || k == RateLimited
}

// ProviderError is the only error type adapters return.
type ProviderError struct {
	Provider Provider
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is matches another *ProviderError by kind, and by provider when the target sets one.
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	if !ok {
		return false
	}
	if t.Provider != "" && t.Provider != e.Provider {
		return false
	}
	return t.Kind == e.Kind
}

func newError(p Provider, kind ErrorKind, format string, args ...any) *ProviderError {
	return &ProviderError{Provider: p, Kind: kind, Err: fmt.Errorf(format, args...)}
}
