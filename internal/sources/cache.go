package sources

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CacheKey identifies one upstream batch: provider, identifier set and fiat.
type CacheKey struct {
	Provider Provider
	IDs      []string
	Fiat     string
}

// NewCacheKey sorts and dedupes ids so the same set always maps to one entry.
func NewCacheKey(p Provider, ids []string, fiat string) CacheKey {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return CacheKey{Provider: p, IDs: slices.Compact(sorted), Fiat: strings.ToLower(fiat)}
}

func (k CacheKey) String() string {
	return string(k.Provider) + "|" + strings.Join(k.IDs, ",") + "|" + k.Fiat
}

type FetchFunc func(ctx context.Context) ([]Price, error)

// QuoteCache memoizes upstream batches for a fixed TTL. Concurrent misses on
// one key share a single fetch; failed fetches are not stored.
type QuoteCache struct {
	store   *ttlcache.Cache[string, []Price]
	group   singleflight.Group
	timeout time.Duration
	metrics Metrics
	log     *zap.Logger
}

type CacheOption func(*QuoteCache)

// WithFetchTimeout bounds a flight once it is detached from its callers.
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *QuoteCache) { c.timeout = d }
}

func WithCacheMetrics(m Metrics) CacheOption {
	return func(c *QuoteCache) { c.metrics = m }
}

func WithCacheLogger(l *zap.Logger) CacheOption {
	return func(c *QuoteCache) { c.log = l }
}

func NewQuoteCache(ttl time.Duration, opts ...CacheOption) *QuoteCache {
	c := &QuoteCache{
		// The TTL counts from the fetch, so hits must not extend it.
		store: ttlcache.New[string, []Price](
			ttlcache.WithTTL[string, []Price](ttl),
			ttlcache.WithDisableTouchOnHit[string, []Price](),
		),
		timeout: 20 * time.Second,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrFetch serves key from the cache or runs fetch once for all concurrent callers.
// A caller whose ctx ends gets ctx.Err(); the flight itself keeps running so
// its result still lands in the cache for the other waiters.
func (c *QuoteCache) GetOrFetch(ctx context.Context, key CacheKey, fetch FetchFunc) ([]Price, error) {
	k := key.String()
	if prices, ok := c.lookup(k); ok {
		c.hit(key.Provider)
		return prices, nil
	}
	c.miss(key.Provider)

	ch := c.group.DoChan(k, func() (any, error) {
		// A flight for this key may have finished between lookup and DoChan.
		if prices, ok := c.lookup(k); ok {
			return prices, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		start := time.Now()
		prices, err := fetch(fctx)
		if err != nil {
			c.log.Debug("cache fill failed", zap.String("key", k), zap.Error(err))
			return nil, err
		}
		c.store.Set(k, prices, ttlcache.DefaultTTL)
		c.log.Debug("cache filled", zap.String("key", k), zap.Int("prices", len(prices)), zap.Duration("took", time.Since(start)))
		return prices, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]Price)), nil
	}
}

func (c *QuoteCache) lookup(k string) ([]Price, bool) {
	item := c.store.Get(k)
	if item == nil || item.IsExpired() {
		return nil, false
	}
	return slices.Clone(item.Value()), true
}

// Sweep drops expired entries. Reads never depend on it.
func (c *QuoteCache) Sweep() int {
	before := c.store.Len()
	c.store.DeleteExpired()
	return before - c.store.Len()
}

func (c *QuoteCache) Len() int { return c.store.Len() }

func (c *QuoteCache) hit(p Provider) {
	if c.metrics != nil {
		c.metrics.CacheHit(string(p))
	}
}

func (c *QuoteCache) miss(p Provider) {
	if c.metrics != nil {
		c.metrics.CacheMiss(string(p))
	}
}
