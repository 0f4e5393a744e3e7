package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/Armin-kho/crypto-price-bot/internal/sources"
	"github.com/Armin-kho/crypto-price-bot/internal/utils"
)

type Config struct {
	BotToken string `json:"bot_token"`
	DataDir  string `json:"data_dir"`

	DefaultFiat      string   `json:"default_fiat"`
	SupportedFiats   []string `json:"supported_fiats"`
	DefaultProvider  string   `json:"default_provider"`
	FallbackProvider string   `json:"fallback_provider,omitempty"`
	CacheTTLSeconds  int      `json:"cache_ttl_seconds"`

	RetryAttempts  int `json:"retry_attempts"`
	RetryBackoffMS int `json:"retry_backoff_ms"`

	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
	MaxConcurrentRequests int `json:"max_concurrent_requests"`
	SymbolRefreshMinutes  int `json:"symbol_refresh_minutes"`
	// 0 disables the periodic database snapshot.
	BackupIntervalHours   int `json:"backup_interval_hours,omitempty"`

	CoinGeckoBaseURL string  `json:"coingecko_base_url,omitempty"`
	CoinGeckoAPIKey  string  `json:"coingecko_api_key,omitempty"`
	CoinGeckoRPS     float64 `json:"coingecko_rps"`
	BinanceBaseURL   string  `json:"binance_base_url,omitempty"`
	BinanceRPS       float64 `json:"binance_rps"`

	// Empty disables the /metrics listener.
	MetricsAddr string `json:"metrics_addr,omitempty"`

	Timezone      string `json:"timezone,omitempty"`
	Calendar      string `json:"calendar,omitempty"`
	PersianDigits bool   `json:"persian_digits,omitempty"`

	Debug bool `json:"debug,omitempty"`
}

func DefaultDataDir() string {
	if v := os.Getenv("CPB_DATA_DIR"); v != "" {
		return v
	}
	return "/var/lib/crypto-price-bot"
}

func DefaultConfigPath() string {
	if v := os.Getenv("CPB_CONFIG"); v != "" {
		return v
	}
	return "/etc/crypto-price-bot/config.json"
}

// LoadEnvFile reads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error; variables already set win.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	var cfg Config
	// 1) Try file
	if b, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("invalid config json: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	// 2) Env override
	applyEnv(&cfg)

	// 3) Defaults
	cfg.applyDefaults()

	if cfg.BotToken == "" {
		return Config{}, fmt.Errorf("missing bot_token (set in %s or BOT_TOKEN env)", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	for _, k := range []string{"TELEGRAM_BOT_TOKEN", "BOT_TOKEN", "CPB_BOT_TOKEN"} {
		if v := os.Getenv(k); v != "" {
			cfg.BotToken = v
		}
	}
	str := map[string]*string{
		"CPB_DATA_DIR":          &cfg.DataDir,
		"CPB_DEFAULT_FIAT":      &cfg.DefaultFiat,
		"CPB_DEFAULT_PROVIDER":  &cfg.DefaultProvider,
		"CPB_FALLBACK_PROVIDER": &cfg.FallbackProvider,
		"CPB_COINGECKO_URL":     &cfg.CoinGeckoBaseURL,
		"CPB_COINGECKO_API_KEY": &cfg.CoinGeckoAPIKey,
		"CPB_BINANCE_URL":       &cfg.BinanceBaseURL,
		"CPB_METRICS_ADDR":      &cfg.MetricsAddr,
		"CPB_TIMEZONE":          &cfg.Timezone,
		"CPB_CALENDAR":          &cfg.Calendar,
	}
	for k, dst := range str {
		if v := os.Getenv(k); v != "" {
			*dst = v
		}
	}
	ints := map[string]*int{
		"CPB_CACHE_TTL_SECONDS":       &cfg.CacheTTLSeconds,
		"CPB_RETRY_ATTEMPTS":          &cfg.RetryAttempts,
		"CPB_RETRY_BACKOFF_MS":        &cfg.RetryBackoffMS,
		"CPB_REQUEST_TIMEOUT_SECONDS": &cfg.RequestTimeoutSeconds,
		"CPB_MAX_CONCURRENT_REQUESTS": &cfg.MaxConcurrentRequests,
		"CPB_SYMBOL_REFRESH_MINUTES":  &cfg.SymbolRefreshMinutes,
		"CPB_BACKUP_INTERVAL_HOURS":   &cfg.BackupIntervalHours,
	}
	for k, dst := range ints {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	if v := os.Getenv("CPB_SUPPORTED_FIATS"); v != "" {
		cfg.SupportedFiats = parseList(v)
	}
	if v := os.Getenv("CPB_DEBUG"); v != "" {
		cfg.Debug = parseBool(v)
	}
	if v := os.Getenv("CPB_PERSIAN_DIGITS"); v != "" {
		cfg.PersianDigits = parseBool(v)
	}
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	c.DataDir = filepath.Clean(c.DataDir)
	if c.DefaultFiat == "" {
		c.DefaultFiat = "usd"
	}
	c.DefaultFiat = strings.ToLower(c.DefaultFiat)
	if len(c.SupportedFiats) == 0 {
		c.SupportedFiats = []string{"usd", "eur"}
	}
	for i, f := range c.SupportedFiats {
		c.SupportedFiats[i] = strings.ToLower(strings.TrimSpace(f))
	}
	if c.DefaultProvider == "" {
		c.DefaultProvider = string(sources.ProviderCoinGecko)
	}
	c.DefaultProvider = strings.ToLower(strings.TrimSpace(c.DefaultProvider))
	c.FallbackProvider = strings.ToLower(strings.TrimSpace(c.FallbackProvider))
	if c.CacheTTLSeconds == 0 {
		c.CacheTTLSeconds = 30
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoffMS == 0 {
		c.RetryBackoffMS = 250
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = 20
	}
	if c.MaxConcurrentRequests == 0 {
		c.MaxConcurrentRequests = 8
	}
	if c.SymbolRefreshMinutes == 0 {
		c.SymbolRefreshMinutes = 360
	}
	if c.CoinGeckoBaseURL == "" {
		c.CoinGeckoBaseURL = sources.DefaultCoinGeckoURL
	}
	if c.CoinGeckoRPS == 0 {
		// Public tier allows roughly 30 calls a minute.
		c.CoinGeckoRPS = 0.5
	}
	if c.BinanceBaseURL == "" {
		c.BinanceBaseURL = sources.DefaultBinanceURL
	}
	if c.BinanceRPS == 0 {
		c.BinanceRPS = 10
	}
	if c.Calendar == "" {
		c.Calendar = utils.CalendarGregorian
	}
}

// Validate reports every invalid option at once.
func (c Config) Validate() error {
	var err error
	if _, ok := sources.ParseProvider(c.DefaultProvider); !ok {
		err = multierr.Append(err, fmt.Errorf("default_provider %q: want coingecko or binance", c.DefaultProvider))
	}
	if c.FallbackProvider != "" {
		if _, ok := sources.ParseProvider(c.FallbackProvider); !ok {
			err = multierr.Append(err, fmt.Errorf("fallback_provider %q: want coingecko or binance", c.FallbackProvider))
		}
	}
	for _, f := range c.SupportedFiats {
		if !isFiatCode(f) {
			err = multierr.Append(err, fmt.Errorf("supported_fiats: %q is not a 3-letter code", f))
		}
	}
	if !isFiatCode(c.DefaultFiat) {
		err = multierr.Append(err, fmt.Errorf("default_fiat %q is not a 3-letter code", c.DefaultFiat))
	} else if !contains(c.SupportedFiats, c.DefaultFiat) {
		err = multierr.Append(err, fmt.Errorf("default_fiat %q is not in supported_fiats", c.DefaultFiat))
	}
	if c.CacheTTLSeconds < 1 {
		err = multierr.Append(err, fmt.Errorf("cache_ttl_seconds must be positive, got %d", c.CacheTTLSeconds))
	}
	if c.RetryAttempts < 1 || c.RetryAttempts > 10 {
		err = multierr.Append(err, fmt.Errorf("retry_attempts must be within 1..10, got %d", c.RetryAttempts))
	}
	if c.RetryBackoffMS < 0 {
		err = multierr.Append(err, fmt.Errorf("retry_backoff_ms must not be negative, got %d", c.RetryBackoffMS))
	}
	if c.BackupIntervalHours < 0 {
		err = multierr.Append(err, fmt.Errorf("backup_interval_hours must not be negative, got %d", c.BackupIntervalHours))
	}
	if c.MaxConcurrentRequests < 1 {
		err = multierr.Append(err, fmt.Errorf("max_concurrent_requests must be positive, got %d", c.MaxConcurrentRequests))
	}
	if c.Calendar != utils.CalendarGregorian && c.Calendar != utils.CalendarJalali {
		err = multierr.Append(err, fmt.Errorf("calendar %q: want gregorian or jalali", c.Calendar))
	}
	if _, lerr := utils.LoadLocation(c.Timezone); lerr != nil {
		err = multierr.Append(err, fmt.Errorf("timezone %q: %w", c.Timezone, lerr))
	}
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c Config) CacheTTL() time.Duration { return time.Duration(c.CacheTTLSeconds) * time.Second }

func (c Config) RetryBackoff() time.Duration { return time.Duration(c.RetryBackoffMS) * time.Millisecond }

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) SymbolRefresh() time.Duration {
	return time.Duration(c.SymbolRefreshMinutes) * time.Minute
}

func (c Config) BackupInterval() time.Duration {
	return time.Duration(c.BackupIntervalHours) * time.Hour
}

func (c Config) DBPath() string { return filepath.Join(c.DataDir, "bot.db") }

func (c Config) BackupPath() string { return filepath.Join(c.DataDir, "bot-backup.db") }

func isFiatCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func parseBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
