package sources

import (
	"context"
	"net/url"
	"strings"
	"sync"
)

const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CoinGecko quotes coins by their CoinGecko id ("bitcoin") in any vs_currency.
type CoinGecko struct {
	cfg clientConfig

	mu           sync.Mutex
	vsCurrencies map[string]struct{} // nil until loaded
}

func NewCoinGecko(opts ...Option) *CoinGecko {
	return &CoinGecko{cfg: newClientConfig(DefaultCoinGeckoURL, opts)}
}

func (c *CoinGecko) Provider() Provider { return ProviderCoinGecko }

// Fetch calls /simple/price once for the whole batch.
func (c *CoinGecko) Fetch(ctx context.Context, ids []string, fiat string) (map[string]Price, error) {
	out := map[string]Price{}
	if len(ids) == 0 {
		return out, nil
	}
	fiat = strings.ToLower(fiat)

	q := url.Values{
		"ids":                     {strings.Join(ids, ",")},
		"vs_currencies":           {fiat},
		"include_24hr_change":     {"true"},
		"include_last_updated_at": {"true"},
	}
	body, err := httpGet(ctx, c.cfg, ProviderCoinGecko, c.cfg.baseURL+"/simple/price?"+q.Encode(), quoteBodyLimit)
	if err != nil {
		return nil, err
	}

	// {"bitcoin":{"usd":67000.1,"usd_24h_change":-1.2,"last_updated_at":1710000000}}
	var raw map[string]map[string]any
	if err := decodeJSON(ProviderCoinGecko, body, &raw); err != nil {
		return nil, err
	}

	now := c.cfg.now()
	entries, fiatSeen := 0, false
	for _, id := range ids {
		entry, ok := raw[id]
		if !ok || entry == nil {
			// Unknown or delisted id.
			continue
		}
		entries++
		v, present := entry[fiat]
		if present {
			fiatSeen = true
		}
		price, ok := toDecimal(v)
		if !ok {
			continue
		}
		p := Price{ID: id, Value: price, FetchedAt: now}
		if ch, ok := toDecimal(entry[fiat+"_24h_change"]); ok {
			p.Change24h = &ch
		}
		if ts, ok := unixTime(entry["last_updated_at"]); ok && ts.Before(now) {
			p.FetchedAt = ts
		}
		out[id] = p
	}

	// An unknown vs_currency and a coin without market data both come back
	// as empty objects. Only the vs_currency list tells them apart.
	if entries > 0 && !fiatSeen {
		if ok, err := c.supportsFiat(ctx, fiat); err == nil && !ok {
			return nil, newError(ProviderCoinGecko, UnsupportedFiat, "vs_currency %q not quoted", fiat)
		}
	}
	return out, nil
}

// supportsFiat checks fiat against /simple/supported_vs_currencies, loaded
// once per adapter. A failed load is retried on the next call.
func (c *CoinGecko) supportsFiat(ctx context.Context, fiat string) (bool, error) {
	c.mu.Lock()
	set := c.vsCurrencies
	c.mu.Unlock()

	if set == nil {
		body, err := httpGet(ctx, c.cfg, ProviderCoinGecko, c.cfg.baseURL+"/simple/supported_vs_currencies", quoteBodyLimit)
		if err != nil {
			return false, err
		}
		var list []string
		if err := decodeJSON(ProviderCoinGecko, body, &list); err != nil {
			return false, err
		}
		set = make(map[string]struct{}, len(list))
		for _, v := range list {
			set[strings.ToLower(v)] = struct{}{}
		}
		c.mu.Lock()
		c.vsCurrencies = set
		c.mu.Unlock()
	}
	_, ok := set[fiat]
	return ok, nil
}

type coinGeckoCoin struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Listings returns /coins/list in upstream order.
func (c *CoinGecko) Listings(ctx context.Context) ([]Listing, error) {
	body, err := httpGet(ctx, c.cfg, ProviderCoinGecko, c.cfg.baseURL+"/coins/list", catalogBodyLimit)
	if err != nil {
		return nil, err
	}
	var coins []coinGeckoCoin
	if err := decodeJSON(ProviderCoinGecko, body, &coins); err != nil {
		return nil, err
	}
	out := make([]Listing, 0, len(coins))
	for _, coin := range coins {
		if coin.ID == "" || coin.Symbol == "" {
			continue
		}
		out = append(out, Listing{Symbol: strings.ToLower(coin.Symbol), ID: coin.ID})
	}
	return out, nil
}
