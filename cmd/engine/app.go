package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"profilescrape-engine/internal/agent"
	"profilescrape-engine/internal/browser"
	"profilescrape-engine/internal/config"
	"profilescrape-engine/internal/events"
	"profilescrape-engine/internal/logging"
	"profilescrape-engine/internal/metrics"
	"profilescrape-engine/internal/narrative"
	"profilescrape-engine/internal/scheduler"
	"profilescrape-engine/internal/scrape/util"
	"profilescrape-engine/internal/secrets"
	"profilescrape-engine/internal/status"
	"profilescrape-engine/internal/store"
)

var errLocked = errors.New("another engine is already using this data directory")

// app is everything a long-running command needs, built from the data dir.
type app struct {
	dataDir string
	cfgPath string
	cfgVal  *atomic.Value // stores config.Config
	log     *zap.Logger
	lock    *flock.Flock

	db      *store.DB
	hub     *events.Hub
	board   *status.Board
	metrics *metrics.Metrics
	sched   *scheduler.Scheduler
	driver  *browser.Driver
}

func (a *app) cfg() config.Config { return a.cfgVal.Load().(config.Config) }

func (a *app) loadCfg() (config.Config, error) { return config.Load(a.cfgPath) }

func newApp(ctx context.Context, f *rootFlags) (_ *app, err error) {
	a := &app{dataDir: f.dataDir, cfgVal: &atomic.Value{}}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if err := os.MkdirAll(a.dataDir, 0o755); err != nil {
		return nil, err
	}

	a.lock = flock.New(filepath.Join(a.dataDir, "engine.lock"))
	ok, err := a.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data dir: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", errLocked, a.dataDir)
	}

	if a.cfgPath, err = config.EnsureUserConfig(a.dataDir); err != nil {
		return nil, fmt.Errorf("config bootstrap failed: %w", err)
	}
	raw, err := a.loadCfg()
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", a.cfgPath, err)
	}
	cfg, vr := config.NormalizeAndValidate(raw)
	if err := vr.Err(); err != nil {
		return nil, err
	}
	a.cfgVal.Store(cfg)

	level := cfg.Logging.Level
	if f.logLevel != "" {
		level = f.logLevel
	}
	logFile := cfg.Logging.File
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = filepath.Join(a.dataDir, logFile)
	}
	if a.log, err = logging.New(level, logFile); err != nil {
		return nil, err
	}
	for _, w := range vr.Warnings {
		a.log.Warn("config warning", zap.String("warning", w))
	}

	if a.db, err = store.Open(ctx, filepath.Join(a.dataDir, "candidates.db")); err != nil {
		return nil, err
	}

	a.hub = events.NewHub()
	a.board = status.NewBoard(a.hub)
	a.metrics = metrics.New()

	gen := narrative.New(narrative.Options{
		Model:   cfg.Narrative.Model,
		BaseURL: cfg.Narrative.BaseURL,
		Logger:  a.log,
		APIKey: func() string {
			c := a.cfg()
			key, err := secrets.GeminiKey(c.Narrative.APIKeyEnv, c.Narrative.KeyringAccount)
			if err != nil {
				return ""
			}
			return key
		},
	})

	a.driver = browser.New(browser.Options{
		ControlURL:        cfg.Browser.ControlURL,
		Bin:               cfg.Browser.Bin,
		Headless:          cfg.Browser.Headless,
		NavigationTimeout: cfg.NavigationTimeout(),
		Limiter:           util.NewHostLimiter(cfg.Browser.RequestsPerSecond, cfg.Browser.Burst),
		Selectors:         agent.LinkedInSelectors(),
		Timings:           cfg.Timings(),
		Logger:            a.log,
	})

	a.sched = scheduler.New(scheduler.Options{
		Navigator:     a.driver,
		Enricher:      gen,
		Persister:     store.Saver{DB: a.db, Logger: a.log.Named("store")},
		Status:        a.board,
		Events:        a.hub,
		Metrics:       a.metrics,
		Logger:        a.log,
		EnrichTimeout: cfg.NarrativeTimeout(),
	})

	a.log.Info("engine ready",
		zap.String("data_dir", a.dataDir),
		zap.String("config", a.cfgPath),
		zap.String("model", cfg.Narrative.Model))
	return a, nil
}

// reap drops sessions that stopped making progress.
func (a *app) reap(ctx context.Context) error {
	_, err := a.sched.Reap(ctx, a.cfg().IdleTimeout())
	return err
}

func (a *app) close() {
	if a.driver != nil {
		if err := a.driver.Shutdown(); err != nil && a.log != nil {
			a.log.Warn("browser shutdown", zap.Error(err))
		}
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.lock != nil {
		_ = a.lock.Unlock()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}
