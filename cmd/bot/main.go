package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Armin-kho/crypto-price-bot/internal/aggregate"
	"github.com/Armin-kho/crypto-price-bot/internal/bot"
	"github.com/Armin-kho/crypto-price-bot/internal/config"
	"github.com/Armin-kho/crypto-price-bot/internal/db"
	"github.com/Armin-kho/crypto-price-bot/internal/logger"
	"github.com/Armin-kho/crypto-price-bot/internal/observability"
	"github.com/Armin-kho/crypto-price-bot/internal/scheduler"
	"github.com/Armin-kho/crypto-price-bot/internal/sources"
	"github.com/Armin-kho/crypto-price-bot/internal/symbols"
)

func main() {
	cfgPath := flag.String("config", config.DefaultConfigPath(), "path to config.json")
	envPath := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	if err := config.LoadEnvFile(*envPath); err != nil {
		fmt.Fprintln(os.Stderr, "env error:", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger error:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("bot stopped", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) (err error) {
	store, err := db.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { err = multierr.Append(err, store.Close()) }()
	if id, idErr := store.InstanceID(ctx); idErr == nil {
		log = log.With(zap.String("instance_id", id))
	}
	if n, cErr := store.CountChats(ctx); cErr == nil {
		log.Info("database opened", zap.String("path", cfg.DBPath()), zap.Int("chats_with_prefs", n))
	}

	metrics := observability.NewNoopMetrics()
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if metrics, err = observability.NewPrometheusMetrics(reg); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler(reg))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics listener", zap.Error(err))
			}
		}()
		log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
	}

	adapters := buildAdapters(cfg, metrics)
	catalogs := map[sources.Provider]sources.Catalog{}
	for _, a := range adapters {
		if cat, ok := a.(sources.Catalog); ok {
			catalogs[a.Provider()] = cat
		}
	}

	resolver := symbols.NewResolver(log)
	cache := sources.NewQuoteCache(cfg.CacheTTL(),
		sources.WithCacheMetrics(metrics),
		sources.WithCacheLogger(log),
		sources.WithFetchTimeout(cfg.RequestTimeout()),
	)
	agg, err := aggregate.New(aggregate.Config{
		DefaultFiat:     cfg.DefaultFiat,
		DefaultProvider: sources.Provider(cfg.DefaultProvider),
		Fallback:        sources.Provider(cfg.FallbackProvider),
		SupportedFiats:  cfg.SupportedFiats,
		Retry: aggregate.RetryPolicy{
			Attempts:   cfg.RetryAttempts,
			Backoff:    cfg.RetryBackoff(),
			MaxBackoff: 8 * cfg.RetryBackoff(),
		},
	}, resolver, cache, log, adapters...)
	if err != nil {
		return err
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	api.Debug = cfg.Debug
	log.Info("bot authorized", zap.String("username", api.Self.UserName))

	app, err := bot.New(cfg, bot.Deps{
		Sender:  api,
		BotName: api.Self.UserName,
		Quoter:  agg,
		Prefs:   store,
		Metrics: metrics,
		Log:     log,
	})
	if err != nil {
		return err
	}

	sched := scheduler.New(resolver, catalogs, cache, store, scheduler.Options{
		RefreshEvery: cfg.SymbolRefresh(),
		SweepEvery:   cfg.CacheTTL(),
		BackupEvery:  cfg.BackupInterval(),
		BackupPath:   cfg.BackupPath(),
	}, log)
	sched.Start()
	defer sched.Stop()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}
	updates := api.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		api.StopReceivingUpdates()
	}()

	err = app.Run(ctx, updates)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = multierr.Append(err, metricsSrv.Shutdown(shutdownCtx))
	}
	return err
}

func buildAdapters(cfg config.Config, m observability.Metrics) []sources.Adapter {
	geckoOpts := []sources.Option{sources.WithBaseURL(cfg.CoinGeckoBaseURL)}
	if cfg.CoinGeckoAPIKey != "" {
		geckoOpts = append(geckoOpts, sources.WithHeader("x-cg-demo-api-key", cfg.CoinGeckoAPIKey))
	}
	gecko := sources.WithRateLimit(sources.NewCoinGecko(geckoOpts...), cfg.CoinGeckoRPS, 1)

	binance := sources.WithRateLimit(
		sources.NewBinance(sources.WithBaseURL(cfg.BinanceBaseURL)),
		cfg.BinanceRPS, max(1, int(cfg.BinanceRPS)),
	)

	return []sources.Adapter{sources.Instrument(gecko, m), sources.Instrument(binance, m)}
}
