package db_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Armin-kho/crypto-price-bot/internal/db"
)

func openTemp(t *testing.T) (*db.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "bot.db")
	d, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, path
}

func TestChatPrefs(t *testing.T) {
	t.Parallel()

	// Arrange
	d, _ := openTemp(t)
	ctx := t.Context()

	// Act + Assert: unknown chat has no prefs.
	_, ok, err := d.GetChatPrefs(ctx, 42)
	require.NoError(t, err)
	require.False(t, ok)

	// Act: fiat and provider are set independently.
	require.NoError(t, d.SetChatFiat(ctx, 42, "eur"))
	require.NoError(t, d.SetChatProvider(ctx, 42, "binance"))
	require.NoError(t, d.SetChatFiat(ctx, 42, "usd"))
	require.NoError(t, d.SetChatProvider(ctx, -100123, "coingecko"))

	// Assert
	p, ok, err := d.GetChatPrefs(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "usd", p.Fiat)
	require.Equal(t, "binance", p.Provider)
	require.False(t, p.UpdatedAt.IsZero())

	group, ok, err := d.GetChatPrefs(ctx, -100123)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, group.Fiat)

	n, err := d.CountChats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestPrefsSurviveReopen(t *testing.T) {
	t.Parallel()

	// Arrange
	d, path := openTemp(t)
	ctx := t.Context()
	require.NoError(t, d.SetChatFiat(ctx, 7, "eur"))
	id, err := d.InstanceID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, d.Close())

	// Act
	again, err := db.Open(path)
	require.NoError(t, err)
	defer again.Close()

	// Assert
	p, ok, err := again.GetChatPrefs(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "eur", p.Fiat)

	sameID, err := again.InstanceID(ctx)
	require.NoError(t, err)
	require.Equal(t, id, sameID)
}

func TestGlobalSettings(t *testing.T) {
	t.Parallel()

	d, _ := openTemp(t)
	ctx := t.Context()

	_, ok, err := d.GetGlobalSetting(ctx, "symbols_refreshed_at:coingecko")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, d.SetGlobalSetting(ctx, "symbols_refreshed_at:coingecko", "1"))
	require.NoError(t, d.SetGlobalSetting(ctx, "symbols_refreshed_at:coingecko", "2"))

	v, ok, err := d.GetGlobalSetting(ctx, "symbols_refreshed_at:coingecko")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", v)
}

func TestBackupTo(t *testing.T) {
	t.Parallel()

	// Arrange
	d, _ := openTemp(t)
	ctx := t.Context()
	require.NoError(t, d.SetChatProvider(ctx, 9, "binance"))
	dst := filepath.Join(t.TempDir(), "backup.db")

	// Act: the second snapshot replaces the first.
	require.NoError(t, d.BackupTo(ctx, dst))
	require.NoError(t, d.SetChatFiat(ctx, 9, "eur"))
	require.NoError(t, d.BackupTo(ctx, dst))

	// Assert
	snap, err := db.Open(dst)
	require.NoError(t, err)
	defer snap.Close()
	p, ok, err := snap.GetChatPrefs(ctx, 9)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "binance", p.Provider)
	require.Equal(t, "eur", p.Fiat)
}
