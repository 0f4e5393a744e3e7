package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Armin-kho/crypto-price-bot/internal/sources"
	"github.com/Armin-kho/crypto-price-bot/internal/symbols"
)

// Store records when each catalog was last loaded and takes snapshots.
type Store interface {
	SetGlobalSetting(ctx context.Context, key, value string) error
	BackupTo(ctx context.Context, dstPath string) error
}

type Options struct {
	RefreshEvery time.Duration
	// RetryEvery is the first wait before reloading a catalog that failed.
	// Waits double up to RefreshEvery.
	RetryEvery time.Duration
	SweepEvery time.Duration
	// Zero BackupEvery disables snapshots.
	BackupEvery time.Duration
	BackupPath  string
}

// Scheduler keeps the symbol tables fresh and drops expired cache entries.
type Scheduler struct {
	resolver *symbols.Resolver
	catalogs map[sources.Provider]sources.Catalog
	cache    *sources.QuoteCache
	store    Store
	opts     Options
	log      *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(resolver *symbols.Resolver, catalogs map[sources.Provider]sources.Catalog, cache *sources.QuoteCache, store Store, opts Options, log *zap.Logger) *Scheduler {
	if opts.RefreshEvery <= 0 {
		opts.RefreshEvery = 6 * time.Hour
	}
	if opts.RetryEvery <= 0 {
		opts.RetryEvery = 30 * time.Second
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		resolver: resolver,
		catalogs: catalogs,
		cache:    cache,
		store:    store,
		opts:     opts,
		log:      log.Named("scheduler"),
		stopCh:   make(chan struct{}),
	}
}

// Start warms the symbol tables in the background and begins the periodic work.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
}

// Stop ends the loop and waits for it. Later calls are no-ops.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	retryWait := backoff.NewExponentialBackOff()
	retryWait.InitialInterval = s.opts.RetryEvery
	retryWait.MaxInterval = max(s.opts.RefreshEvery, s.opts.RetryEvery)
	retryWait.MaxElapsedTime = 0
	retryWait.Reset()

	retry := time.NewTimer(s.opts.RetryEvery)
	retry.Stop()
	defer retry.Stop()
	var pending []sources.Provider
	schedule := func(failed []sources.Provider) {
		pending = failed
		if len(failed) == 0 {
			retryWait.Reset()
			return
		}
		d := retryWait.NextBackOff()
		s.log.Info("catalog reload scheduled", zap.Int("providers", len(failed)), zap.Duration("in", d))
		retry.Reset(d)
	}

	// Warm-up.
	schedule(s.refreshTick(s.providers()))

	refresh := time.NewTicker(s.opts.RefreshEvery)
	defer refresh.Stop()
	sweep := time.NewTicker(s.opts.SweepEvery)
	defer sweep.Stop()
	var backup <-chan time.Time
	if s.opts.BackupEvery > 0 && s.opts.BackupPath != "" && s.store != nil {
		t := time.NewTicker(s.opts.BackupEvery)
		defer t.Stop()
		backup = t.C
	}

	for {
		select {
		case <-refresh.C:
			retry.Stop()
			schedule(s.refreshTick(s.providers()))
		case <-retry.C:
			if len(pending) > 0 {
				schedule(s.refreshTick(pending))
			}
		case <-sweep.C:
			if n := s.cache.Sweep(); n > 0 {
				s.log.Debug("cache swept", zap.Int("removed", n), zap.Int("left", s.cache.Len()))
			}
		case <-backup:
			s.backupTick()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) refreshTick(providers []sources.Provider) []sources.Provider {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Stop aborts a refresh in flight.
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	failed, err := s.refresh(ctx, providers)
	if err != nil {
		s.log.Warn("symbol refresh incomplete, keeping previous tables", zap.Error(err))
	}
	return failed
}

func (s *Scheduler) providers() []sources.Provider {
	out := make([]sources.Provider, 0, len(s.catalogs))
	for _, p := range sources.Providers {
		if _, ok := s.catalogs[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *Scheduler) backupTick() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.store.BackupTo(ctx, s.opts.BackupPath); err != nil {
		s.log.Warn("database backup failed", zap.Error(err))
		return
	}
	s.log.Info("database backup written", zap.String("path", s.opts.BackupPath))
}

// RefreshNow reloads every catalog concurrently and reports all failures.
func (s *Scheduler) RefreshNow(ctx context.Context) error {
	_, err := s.refresh(ctx, s.providers())
	return err
}

func (s *Scheduler) refresh(ctx context.Context, providers []sources.Provider) ([]sources.Provider, error) {
	var (
		mu     sync.Mutex
		errs   error
		failed []sources.Provider
		wg     sync.WaitGroup
	)
	for _, p := range providers {
		cat := s.catalogs[p]
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.resolver.Refresh(ctx, p, cat)
			if err == nil && s.store != nil {
				err = s.store.SetGlobalSetting(ctx, "symbols_refreshed_at:"+string(p), strconv.FormatInt(time.Now().Unix(), 10))
			}
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				failed = append(failed, p)
				mu.Unlock()
				return
			}
			s.log.Info("symbol table refreshed", zap.String("provider", string(p)), zap.Int("symbols", s.resolver.Size(p)))
		}()
	}
	wg.Wait()
	return failed, errs
}
