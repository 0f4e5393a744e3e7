package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"github.com/Armin-kho/crypto-price-bot/internal/scheduler"
	"github.com/Armin-kho/crypto-price-bot/internal/sources"
	"github.com/Armin-kho/crypto-price-bot/internal/symbols"
)

type fakeCatalog struct {
	listings []sources.Listing
	err      error
}

func (f fakeCatalog) Listings(context.Context) ([]sources.Listing, error) {
	return f.listings, f.err
}

type memStore struct {
	mu      sync.Mutex
	keys    map[string]string
	backups []string
}

func (m *memStore) BackupTo(_ context.Context, dstPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backups = append(m.backups, dstPath)
	return nil
}

func (m *memStore) backupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.backups)
}

func (m *memStore) SetGlobalSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = value
	return nil
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok
}

func TestRefreshNowLoadsCatalogs(t *testing.T) {
	t.Parallel()

	// Arrange
	resolver := symbols.NewResolver(zaptest.NewLogger(t))
	store := &memStore{keys: map[string]string{}}
	s := scheduler.New(resolver, map[sources.Provider]sources.Catalog{
		sources.ProviderCoinGecko: fakeCatalog{listings: []sources.Listing{{Symbol: "jup", ID: "jupiter-exchange-solana"}}},
		sources.ProviderBinance:   fakeCatalog{err: errors.New("exchangeInfo timeout")},
	}, sources.NewQuoteCache(time.Minute), store, scheduler.Options{}, zaptest.NewLogger(t))

	// Act
	err := s.RefreshNow(t.Context())

	// Assert: one failure does not block the other provider.
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 1)
	require.Equal(t, 1, resolver.Size(sources.ProviderCoinGecko))
	require.Zero(t, resolver.Size(sources.ProviderBinance))
	require.True(t, store.has("symbols_refreshed_at:coingecko"))
	require.False(t, store.has("symbols_refreshed_at:binance"))
}

func TestStartWarmsAndSweeps(t *testing.T) {
	t.Parallel()

	// Arrange
	resolver := symbols.NewResolver(nil)
	cache := sources.NewQuoteCache(10 * time.Millisecond)
	_, err := cache.GetOrFetch(t.Context(), sources.NewCacheKey(sources.ProviderCoinGecko, []string{"bitcoin"}, "usd"),
		func(context.Context) ([]sources.Price, error) {
			return []sources.Price{{ID: "bitcoin", Value: decimal.NewFromInt(1)}}, nil
		})
	require.NoError(t, err)

	s := scheduler.New(resolver, map[sources.Provider]sources.Catalog{
		sources.ProviderBinance: fakeCatalog{listings: []sources.Listing{{Symbol: "btc", ID: "BTCUSDT", Quote: "USDT"}}},
	}, cache, nil, scheduler.Options{RefreshEvery: time.Hour, SweepEvery: 20 * time.Millisecond}, nil)

	// Act
	s.Start()
	defer s.Stop()

	// Assert
	require.Eventually(t, func() bool { return resolver.Size(sources.ProviderBinance) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return cache.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBackupTicks(t *testing.T) {
	t.Parallel()

	// Arrange
	store := &memStore{keys: map[string]string{}}
	s := scheduler.New(symbols.NewResolver(nil), nil, sources.NewQuoteCache(time.Minute), store, scheduler.Options{
		RefreshEvery: time.Hour,
		BackupEvery:  10 * time.Millisecond,
		BackupPath:   "/data/bot-backup.db",
	}, zaptest.NewLogger(t))

	// Act
	s.Start()
	defer s.Stop()

	// Assert
	require.Eventually(t, func() bool { return store.backupCount() >= 2 }, time.Second, 5*time.Millisecond)
}

// flakyCatalog fails its first failures calls.
type flakyCatalog struct {
	mu       sync.Mutex
	calls    int
	failures int
}

func (f *flakyCatalog) Listings(context.Context) ([]sources.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, &sources.ProviderError{Provider: sources.ProviderCoinGecko, Kind: sources.RateLimited, Err: errors.New("429")}
	}
	return []sources.Listing{{Symbol: "jup", ID: "jupiter-exchange-solana"}}, nil
}

func (f *flakyCatalog) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestFailedWarmUpRetriedBeforeNextRefresh(t *testing.T) {
	t.Parallel()

	// Arrange: the first two /coins/list calls are rate limited.
	resolver := symbols.NewResolver(nil)
	gecko := &flakyCatalog{failures: 2}
	binance := &flakyCatalog{}
	s := scheduler.New(resolver, map[sources.Provider]sources.Catalog{
		sources.ProviderCoinGecko: gecko,
		sources.ProviderBinance:   binance,
	}, sources.NewQuoteCache(time.Minute), nil, scheduler.Options{
		RefreshEvery: time.Hour,
		RetryEvery:   5 * time.Millisecond,
	}, zaptest.NewLogger(t))

	// Act
	s.Start()
	defer s.Stop()

	// Assert: only the failed catalog is reloaded, long before the hourly refresh.
	require.Eventually(t, func() bool { return resolver.Size(sources.ProviderCoinGecko) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 3, gecko.Calls())
	require.Equal(t, 1, binance.Calls())
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	s := scheduler.New(symbols.NewResolver(nil), nil, sources.NewQuoteCache(time.Minute), nil, scheduler.Options{}, nil)
	s.Start()

	require.NotPanics(t, func() {
		s.Stop()
		s.Stop()
	})
}
