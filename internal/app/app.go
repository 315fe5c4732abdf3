// Package app initializes and holds the long-lived services, acting as the
// dependency injection container for the sweep process.
package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/scanforge/keysweep/internal/balancer"
	"github.com/scanforge/keysweep/internal/checkpoint"
	"github.com/scanforge/keysweep/internal/clock/system"
	"github.com/scanforge/keysweep/internal/config"
	"github.com/scanforge/keysweep/internal/gemini"
	"github.com/scanforge/keysweep/internal/github"
	"github.com/scanforge/keysweep/internal/journal"
	"github.com/scanforge/keysweep/internal/keys"
	"github.com/scanforge/keysweep/internal/logging"
	"github.com/scanforge/keysweep/internal/scheduler"
	"github.com/scanforge/keysweep/internal/syncer"
)

// App holds every long-lived service of the sweep process. It is built once
// at startup and torn down by Close.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *checkpoint.Store
	journal    *journal.Journal
	scheduler  *scheduler.Scheduler
	dispatcher *syncer.Dispatcher
	admin      *adminServer
}

// New wires the full service graph from configuration. It fails fast: any
// component that cannot initialize aborts startup.
func New(cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	clk := system.New()

	store, err := checkpoint.NewStore(cfg.Storage.DataDir, cfg.Storage.ScannedSHAsFile, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize checkpoint store: %w", err)
	}

	jr, err := journal.New(journal.Config{
		DataDir:                 cfg.Storage.DataDir,
		QueriesFile:             cfg.Storage.QueriesFile,
		ValidKeyPrefix:          cfg.Storage.ValidKeyPrefix,
		ValidKeyDetailPrefix:    cfg.Storage.ValidKeyDetailPrefix,
		RateLimitedPrefix:       cfg.Storage.RateLimitedPrefix,
		RateLimitedDetailPrefix: cfg.Storage.RateLimitedDetailPrefix,
	}, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize journal: %w", err)
	}

	search, err := github.NewSearchClient(github.Config{
		Tokens:         cfg.GitHub.TokenList(),
		Proxies:        cfg.GitHub.ProxyList(),
		Timeout:        cfg.GitHub.Timeout(),
		MaxRetries:     cfg.GitHub.MaxRetries,
		RequestsPerSec: cfg.GitHub.RequestsPerSec,
	}, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize search client: %w", err)
	}

	prober, err := gemini.NewProber(gemini.Config{
		Model:    cfg.Validator.Model,
		Endpoint: cfg.Validator.Endpoint,
		Proxies:  cfg.Validator.ProxyList(),
		Timeout:  cfg.Validator.Timeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("initialize key prober: %w", err)
	}
	validator := keys.NewValidator(prober, nil, logger)

	var balancerClient, gptLoadClient syncer.Deliverer
	if cfg.Sync.Balancer.Enabled {
		balancerClient = balancer.NewConfigClient(cfg.Sync.Balancer.URL, cfg.Sync.Balancer.Auth, 0, logger)
	}
	if cfg.Sync.GPTLoad.Enabled {
		gptLoadClient = balancer.NewGPTLoadClient(cfg.Sync.GPTLoad.URL, cfg.Sync.GPTLoad.Auth, cfg.Sync.GPTLoad.Group, 0, clk, logger)
	}
	dispatcher := syncer.New(syncer.Config{
		Interval: cfg.Sync.Interval(),
		Workers:  cfg.Sync.Workers,
	}, store, jr, balancerClient, gptLoadClient, logger)

	sched := scheduler.New(scheduler.Config{
		MaxAge:              cfg.Scanner.MaxAge(),
		BlacklistTokens:     cfg.Scanner.BlacklistTokens(),
		CheckpointEvery:     cfg.Scanner.CheckpointEvery,
		QueryBreakEvery:     cfg.Scanner.QueryBreakEvery,
		LoopSleep:           cfg.Scanner.LoopSleep(),
		ResetQueriesPerPass: cfg.Scanner.ResetQueriesPerPass,
	}, search, validator, store, jr, dispatcher, clk, nil, logger)

	logger.Info("application services initialized",
		zap.Int("tokens", len(cfg.GitHub.TokenList())),
		zap.Bool("balancer_sync", cfg.Sync.Balancer.Enabled),
		zap.Bool("gpt_load_sync", cfg.Sync.GPTLoad.Enabled),
	)

	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		journal:    jr,
		scheduler:  sched,
		dispatcher: dispatcher,
		admin:      newAdminServer(cfg.Admin.Port, logger),
	}, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run starts the admin endpoint and the sync dispatcher, then drives the
// crawl until ctx ends. The dispatcher finishes its in-flight drains before
// Run returns.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.admin.run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.dispatcher.Run(ctx)
	}()

	err := a.scheduler.Run(ctx)
	wg.Wait()
	return err
}

// Close flushes the logger. Called after Run returns.
func (a *App) Close() {
	a.logger.Info("shutting down")
	_ = a.logger.Sync()
}
