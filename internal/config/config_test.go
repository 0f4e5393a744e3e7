package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	// Arrange
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("CPB_DATA_DIR", t.TempDir())

	// Act
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))

	// Assert
	require.NoError(t, err)
	require.Equal(t, "123:abc", cfg.BotToken)
	require.Equal(t, "usd", cfg.DefaultFiat)
	require.Equal(t, []string{"usd", "eur"}, cfg.SupportedFiats)
	require.Equal(t, "coingecko", cfg.DefaultProvider)
	require.Empty(t, cfg.FallbackProvider)
	require.Equal(t, 30*time.Second, cfg.CacheTTL())
	require.Equal(t, 3, cfg.RetryAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.RetryBackoff())
	require.Equal(t, "gregorian", cfg.Calendar)
}

func TestLoadFileThenEnv(t *testing.T) {
	// Arrange
	path := writeFile(t, "config.json", `{
		"bot_token": "from-file",
		"data_dir": "/tmp/cpb/../cpb",
		"default_fiat": "EUR",
		"default_provider": "Binance",
		"fallback_provider": "coingecko",
		"cache_ttl_seconds": 45
	}`)
	t.Setenv("CPB_CACHE_TTL_SECONDS", "15")
	t.Setenv("CPB_SUPPORTED_FIATS", "usd, eur ,gbp")

	// Act
	cfg, err := Load(path)

	// Assert
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.BotToken)
	require.Equal(t, "/tmp/cpb", cfg.DataDir)
	require.Equal(t, "eur", cfg.DefaultFiat)
	require.Equal(t, "binance", cfg.DefaultProvider)
	require.Equal(t, "coingecko", cfg.FallbackProvider)
	require.Equal(t, 15*time.Second, cfg.CacheTTL())
	require.Equal(t, []string{"usd", "eur", "gbp"}, cfg.SupportedFiats)
	require.Equal(t, "/tmp/cpb/bot.db", cfg.DBPath())
}

func TestLoadMissingToken(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("CPB_BOT_TOKEN", "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorContains(t, err, "missing bot_token")
}

func TestLoadInvalidJSON(t *testing.T) {
	_, err := Load(writeFile(t, "config.json", "{not json"))
	require.ErrorContains(t, err, "invalid config json")
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	cfg := Config{
		BotToken:              "x",
		DefaultFiat:           "jpy",
		SupportedFiats:        []string{"usd", "dollars"},
		DefaultProvider:       "kraken",
		FallbackProvider:      "ftx",
		CacheTTLSeconds:       -1,
		RetryAttempts:         50,
		MaxConcurrentRequests: 1,
		Calendar:              "lunar",
		Timezone:              "Mars/Olympus",
	}

	err := cfg.Validate()

	require.Error(t, err)
	require.Len(t, multierr.Errors(errorsUnwrap(err)), 8)
}

func TestLoadEnvFile(t *testing.T) {
	// Arrange
	path := writeFile(t, ".env", "CPB_TEST_ONLY_KEY=from-dotenv\n")
	t.Setenv("CPB_TEST_ONLY_KEY", "")
	os.Unsetenv("CPB_TEST_ONLY_KEY")

	// Act
	require.NoError(t, LoadEnvFile(path))
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")))

	// Assert
	require.Equal(t, "from-dotenv", os.Getenv("CPB_TEST_ONLY_KEY"))
}

func errorsUnwrap(err error) error {
	type wrapper interface{ Unwrap() error }
	if w, ok := err.(wrapper); ok {
		return w.Unwrap()
	}
	return err
}
