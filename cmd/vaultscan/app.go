package main

import (
	"context"
	"fmt"
	"time"

	"github.com/FairForge/vaultscan/internal/config"
	"github.com/FairForge/vaultscan/internal/engine"
	"github.com/FairForge/vaultscan/internal/events"
	"github.com/FairForge/vaultscan/internal/logging"
	"github.com/FairForge/vaultscan/internal/metrics"
	"github.com/FairForge/vaultscan/internal/reports"
	"github.com/FairForge/vaultscan/internal/scanner"
	"github.com/FairForge/vaultscan/internal/signatures"
	"go.uber.org/zap"
)

// app holds the long-lived components shared by every command
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	pool     *engine.Pool
	bus      *events.Bus
	scans    *scanner.Orchestrator
	store    reports.Store
	closeDB  func() error
	shutdown bool
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		bus:     events.NewBus(0),
		closeDB: func() error { return nil },
	}

	a.pool = engine.NewPool(signatures.NewBuilder(logger), cfg.EnginePool(), logger, a.metrics)
	a.scans = scanner.New(a.pool, a.bus, cfg.Scanner(), logger, a.metrics)

	if cfg.Reports.DSN != "" {
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		sqlStore, err := reports.OpenPostgres(openCtx, cfg.Reports.DSN)
		if err != nil {
			return nil, fmt.Errorf("open report store: %w", err)
		}
		a.store = sqlStore
		a.closeDB = sqlStore.Close
	} else {
		a.store = reports.NewMemoryStore()
	}

	recorder := reports.NewRecorder(a.store, logger)
	a.bus.Subscribe("*", recorder.Handle)

	return a, nil
}

// close stops any active run before the engine goes away
func (a *app) close() {
	if a.shutdown {
		return
	}
	a.shutdown = true

	a.scans.Shutdown()
	if err := a.pool.Close(); err != nil {
		a.logger.Warn("failed to close engine", zap.Error(err))
	}
	if err := a.closeDB(); err != nil {
		a.logger.Warn("failed to close report store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// resolvePaths picks the scan roots from args, a named profile, or the
// default profile
func (a *app) resolvePaths(args []string, profile string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if profile == "" {
		profile = config.DefaultProfileName
		if len(a.cfg.Profiles) > 0 {
			profile = a.cfg.Profiles[0].Name
		}
	}
	p, err := a.cfg.Profile(profile)
	if err != nil {
		return nil, err
	}
	return p.Paths, nil
}
