package sources_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Armin-kho/crypto-price-bot/internal/sources"
)

func countingFetch(calls *atomic.Int32, delay time.Duration) sources.FetchFunc {
	return func(ctx context.Context) ([]sources.Price, error) {
		calls.Add(1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []sources.Price{{ID: "bitcoin", Value: decimal.RequireFromString("67000")}}, nil
	}
}

func TestCacheKeyIsOrderInsensitive(t *testing.T) {
	t.Parallel()

	a := sources.NewCacheKey(sources.ProviderCoinGecko, []string{"ethereum", "bitcoin", "bitcoin"}, "USD")
	b := sources.NewCacheKey(sources.ProviderCoinGecko, []string{"bitcoin", "ethereum"}, "usd")

	require.Equal(t, a.String(), b.String())
	require.Equal(t, "coingecko|bitcoin,ethereum|usd", a.String())
	require.NotEqual(t, a.String(), sources.NewCacheKey(sources.ProviderBinance, []string{"bitcoin", "ethereum"}, "usd").String())
}

func TestQuoteCacheHit(t *testing.T) {
	t.Parallel()

	// Arrange
	cache := sources.NewQuoteCache(time.Minute, sources.WithCacheLogger(zaptest.NewLogger(t)))
	key := sources.NewCacheKey(sources.ProviderCoinGecko, []string{"bitcoin"}, "usd")
	var calls atomic.Int32

	// Act
	first, err := cache.GetOrFetch(t.Context(), key, countingFetch(&calls, 0))
	require.NoError(t, err)
	second, err := cache.GetOrFetch(t.Context(), key, countingFetch(&calls, 0))
	require.NoError(t, err)

	// Assert
	require.EqualValues(t, 1, calls.Load())
	require.Equal(t, first, second)
}

func TestQuoteCacheExpiry(t *testing.T) {
	t.Parallel()

	// Arrange
	cache := sources.NewQuoteCache(50 * time.Millisecond)
	key := sources.NewCacheKey(sources.ProviderBinance, []string{"BTCUSDT"}, "usd")
	var calls atomic.Int32

	// Act
	_, err := cache.GetOrFetch(t.Context(), key, countingFetch(&calls, 0))
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)
	_, err = cache.GetOrFetch(t.Context(), key, countingFetch(&calls, 0))
	require.NoError(t, err)

	// Assert: the expired entry was never served.
	require.EqualValues(t, 2, calls.Load())
}

func TestQuoteCacheStampede(t *testing.T) {
	t.Parallel()

	// Arrange
	cache := sources.NewQuoteCache(time.Minute)
	key := sources.NewCacheKey(sources.ProviderCoinGecko, []string{"bitcoin", "ethereum"}, "usd")
	var calls atomic.Int32
	fetch := countingFetch(&calls, 50*time.Millisecond)

	const n = 32
	var wg sync.WaitGroup
	results := make([][]sources.Price, n)
	errs := make([]error, n)

	// Act
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = cache.GetOrFetch(context.Background(), key, fetch)
		}()
	}
	wg.Wait()

	// Assert
	require.EqualValues(t, 1, calls.Load())
	for i := range n {
		require.NoError(t, errs[i])
		require.Equal(t, results[0], results[i])
	}
}

func TestQuoteCacheDoesNotStoreErrors(t *testing.T) {
	t.Parallel()

	// Arrange
	cache := sources.NewQuoteCache(time.Minute)
	key := sources.NewCacheKey(sources.ProviderCoinGecko, []string{"bitcoin"}, "usd")
	boom := &sources.ProviderError{Provider: sources.ProviderCoinGecko, Kind: sources.Unreachable, Err: errors.New("timeout")}
	var calls atomic.Int32

	// Act
	_, err := cache.GetOrFetch(t.Context(), key, func(context.Context) ([]sources.Price, error) {
		calls.Add(1)
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	_, err = cache.GetOrFetch(t.Context(), key, countingFetch(&calls, 0))

	// Assert
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
	require.Equal(t, 1, cache.Len())
}

func TestQuoteCacheAbandonedCallerStillFills(t *testing.T) {
	t.Parallel()

	// Arrange
	cache := sources.NewQuoteCache(time.Minute)
	key := sources.NewCacheKey(sources.ProviderCoinGecko, []string{"bitcoin"}, "usd")
	var calls atomic.Int32
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()

	// Act: the caller gives up before the upstream answers.
	_, err := cache.GetOrFetch(ctx, key, countingFetch(&calls, 100*time.Millisecond))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Assert: the detached flight completes and later callers hit the cache.
	require.Eventually(t, func() bool { return cache.Len() == 1 }, time.Second, 5*time.Millisecond)
	prices, err := cache.GetOrFetch(t.Context(), key, countingFetch(&calls, 0))
	require.NoError(t, err)
	require.Len(t, prices, 1)
	require.EqualValues(t, 1, calls.Load())
}

func TestQuoteCacheSweep(t *testing.T) {
	t.Parallel()

	// Arrange
	cache := sources.NewQuoteCache(20 * time.Millisecond)
	var calls atomic.Int32
	for _, id := range []string{"bitcoin", "ethereum"} {
		_, err := cache.GetOrFetch(t.Context(), sources.NewCacheKey(sources.ProviderCoinGecko, []string{id}, "usd"), countingFetch(&calls, 0))
		require.NoError(t, err)
	}
	time.Sleep(40 * time.Millisecond)

	// Act
	removed := cache.Sweep()

	// Assert
	require.Equal(t, 2, removed)
	require.Zero(t, cache.Len())
}
