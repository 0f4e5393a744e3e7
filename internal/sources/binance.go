package sources

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

const DefaultBinanceURL = "https://api.binance.com"

// Binance has no fiat conversion; a fiat is served through the pair quoted in it.
var binanceQuotes = map[string]string{
	"usd": "USDT",
	"eur": "EUR",
	"gbp": "GBP",
	"try": "TRY",
	"brl": "BRL",
	"jpy": "JPY",
}

// QuoteAsset returns the Binance quote asset that stands in for fiat.
func QuoteAsset(fiat string) (string, bool) {
	q, ok := binanceQuotes[strings.ToLower(fiat)]
	return q, ok
}

// Binance quotes trading pairs ("BTCUSDT") from the 24h ticker.
type Binance struct {
	cfg clientConfig
}

func NewBinance(opts ...Option) *Binance {
	return &Binance{cfg: newClientConfig(DefaultBinanceURL, opts)}
}

func (b *Binance) Provider() Provider { return ProviderBinance }

type binanceTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          any    `json:"lastPrice"`
	PriceChangePercent any    `json:"priceChangePercent"`
}

// Fetch asks for every pair in one /api/v3/ticker/24hr call. Binance rejects
// the whole batch when one pair is unknown, so that case is retried pair by pair.
func (b *Binance) Fetch(ctx context.Context, ids []string, fiat string) (map[string]Price, error) {
	if _, ok := QuoteAsset(fiat); !ok {
		return nil, newError(ProviderBinance, UnsupportedFiat, "no quote asset for %q", fiat)
	}
	out := map[string]Price{}
	if len(ids) == 0 {
		return out, nil
	}

	tickers, err := b.tickers(ctx, ids)
	switch {
	case err == nil:
	case !invalidSymbol(err):
		return nil, err
	case len(ids) == 1:
		return out, nil
	default:
		if tickers, err = b.eachTicker(ctx, ids); err != nil {
			return nil, err
		}
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	now := b.cfg.now()
	for _, t := range tickers {
		if !want[t.Symbol] {
			continue
		}
		price, ok := toDecimal(t.LastPrice)
		if !ok {
			continue
		}
		p := Price{ID: t.Symbol, Value: price, FetchedAt: now}
		if ch, ok := toDecimal(t.PriceChangePercent); ok {
			p.Change24h = &ch
		}
		out[t.Symbol] = p
	}
	return out, nil
}

func (b *Binance) tickers(ctx context.Context, ids []string) ([]binanceTicker, error) {
	q := url.Values{}
	if len(ids) == 1 {
		q.Set("symbol", ids[0])
	} else {
		enc, _ := json.Marshal(ids)
		q.Set("symbols", string(enc))
	}
	body, err := httpGet(ctx, b.cfg, ProviderBinance, b.cfg.baseURL+"/api/v3/ticker/24hr?"+q.Encode(), quoteBodyLimit)
	if err != nil {
		return nil, err
	}

	if len(ids) == 1 {
		var one binanceTicker
		if err := decodeJSON(ProviderBinance, body, &one); err != nil {
			return nil, err
		}
		return []binanceTicker{one}, nil
	}
	var many []binanceTicker
	if err := decodeJSON(ProviderBinance, body, &many); err != nil {
		return nil, err
	}
	return many, nil
}

func (b *Binance) eachTicker(ctx context.Context, ids []string) ([]binanceTicker, error) {
	var out []binanceTicker
	for _, id := range ids {
		one, err := b.tickers(ctx, []string{id})
		if err != nil {
			if invalidSymbol(err) {
				continue
			}
			return nil, err
		}
		out = append(out, one...)
	}
	return out, nil
}

// invalidSymbol matches Binance error -1121 ("Invalid symbol.").
func invalidSymbol(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == http.StatusBadRequest && strings.Contains(se.Body, "-1121")
}

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

// Listings returns every pair currently trading on the spot market.
func (b *Binance) Listings(ctx context.Context) ([]Listing, error) {
	body, err := httpGet(ctx, b.cfg, ProviderBinance, b.cfg.baseURL+"/api/v3/exchangeInfo?permissions=SPOT", catalogBodyLimit)
	if err != nil {
		return nil, err
	}
	var info binanceExchangeInfo
	if err := decodeJSON(ProviderBinance, body, &info); err != nil {
		return nil, err
	}
	out := make([]Listing, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		out = append(out, Listing{Symbol: strings.ToLower(s.BaseAsset), ID: s.Symbol, Quote: s.QuoteAsset})
	}
	return out, nil
}
