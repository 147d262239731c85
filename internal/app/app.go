// Package app builds the long-lived crawl services from configuration and
// acts as the dependency container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/novel-crawler/internal/api"
	"github.com/JakeFAU/novel-crawler/internal/browser"
	"github.com/JakeFAU/novel-crawler/internal/captcha"
	"github.com/JakeFAU/novel-crawler/internal/clock/system"
	"github.com/JakeFAU/novel-crawler/internal/config"
	"github.com/JakeFAU/novel-crawler/internal/crawler"
	"github.com/JakeFAU/novel-crawler/internal/discovery"
	"github.com/JakeFAU/novel-crawler/internal/extract"
	"github.com/JakeFAU/novel-crawler/internal/fetch"
	collyfetcher "github.com/JakeFAU/novel-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/novel-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/novel-crawler/internal/glyph"
	"github.com/JakeFAU/novel-crawler/internal/hash/sha256"
	"github.com/JakeFAU/novel-crawler/internal/id/uuid"
	"github.com/JakeFAU/novel-crawler/internal/orchestrator"
	"github.com/JakeFAU/novel-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/novel-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/novel-crawler/internal/random"
	"github.com/JakeFAU/novel-crawler/internal/storage/gcs"
	"github.com/JakeFAU/novel-crawler/internal/storage/local"
	"github.com/JakeFAU/novel-crawler/internal/storage/memory"
	"github.com/JakeFAU/novel-crawler/internal/storage/postgres"
	"github.com/JakeFAU/novel-crawler/internal/storage/sqlite"
)

// Mode selects which batches a run processes.
type Mode string

// Run modes.
const (
	ModeAll      Mode = "all"
	ModeNovels   Mode = "novels"
	ModeChapters Mode = "chapters"
)

// NovelStore is a crawler.Store that also accepts seed urls.
type NovelStore interface {
	crawler.Store
	crawler.Seeder
}

type pinger interface {
	Ping(ctx context.Context) error
}

// App holds the shared services for one process.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     NovelStore
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	pool      *browser.PoolManager
	runner    *orchestrator.Runner
	runs      *api.RunTracker
	closers   []func() error
}

// Options overrides pieces of the wiring; zero values use the configured
// implementations.
type Options struct {
	Launcher browser.Launcher
	Store    NovelStore
}

// New initializes every service named by cfg. Browsers are not started until
// the first run acquires a session.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	logger.Info("initializing application services",
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("pubsub", cfg.PubSub.ProjectID != ""),
	)

	store := opts.Store
	if store == nil {
		var err error
		if store, err = a.buildStore(ctx); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
	}
	a.store = store

	blobs, err := a.buildBlobs(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.blobs = blobs

	if cfg.PubSub.ProjectID != "" {
		pub, err := pubsub.NewFromConfig(ctx, pubsub.Config{ProjectID: cfg.PubSub.ProjectID, Topic: cfg.PubSub.Topic}, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init pubsub: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
	}

	clock := system.New()
	rnd := random.New()
	hasher := sha256.New()

	launcher := opts.Launcher
	if launcher == nil {
		launcher = headless.NewLauncher(headless.Config{
			Headless:     cfg.Browser.Headless,
			ExecPath:     cfg.Browser.ChromePath,
			NoSandbox:    cfg.Browser.NoSandbox,
			StartTimeout: cfg.Browser.StartTimeout,
		}, logger)
	}
	a.pool = browser.NewPoolManager(launcher, cfg.PoolConfig(), clock, rnd, uuid.NewWithPrefix("sess-"), logger)

	solver, err := buildSolver(cfg.Captcha, clock, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	pages := fetch.New(cfg.FetchPolicy(), a.pool, solver, clock, rnd, logger)

	catalog := glyph.Catalog{}
	if cfg.Glyph.CatalogPath != "" {
		if catalog, err = glyph.LoadCatalog(cfg.Glyph.CatalogPath); err != nil {
			a.Close()
			return nil, fmt.Errorf("load glyph catalog: %w", err)
		}
	} else {
		logger.Warn("no glyph catalog configured; obfuscated chapters will stay encoded")
	}
	decoder := glyph.NewDecoder(glyph.SFNTProvider{}, catalog, hasher, logger)

	assets := collyfetcher.New(
		collyfetcher.Config{Timeout: cfg.Assets.Timeout, MaxBodyBytes: cfg.Assets.MaxBodyBytes},
		ratelimit.New(ratelimit.Config{RPS: cfg.Assets.RPS, Burst: cfg.Assets.Burst}),
	)

	novels := discovery.NewNovels(pages, logger)
	chapters := discovery.NewChapters(
		discovery.ChaptersConfig{ArchivePrefix: cfg.Storage.Prefix},
		pages,
		extract.NewReadability(),
		assets,
		decoder,
		blobs,
		hasher,
		logger,
	)

	a.runner = orchestrator.New(cfg.RunnerConfig(), store, a.pool, novels, chapters, a.publisher, clock, rnd, logger)
	a.runs = api.NewRunTracker(clock)

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) buildStore(ctx context.Context) (NovelStore, error) {
	switch a.cfg.DB.Driver {
	case "postgres":
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		if a.cfg.DB.Migrate {
			if err := store.Migrate(ctx); err != nil {
				store.Close()
				return nil, err
			}
		}
		return store, nil
	case "sqlite":
		store, err := sqlite.Open(ctx, a.cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return store, nil
	case "memory":
		a.logger.Warn("using in-memory store; state is lost on exit")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown db driver: %s", a.cfg.DB.Driver)
	}
}

func (a *App) buildBlobs(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return memory.NewBlobStore(), nil
	case "local":
		blobs, err := local.New(local.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return blobs, nil
	case "gcs":
		// the configured prefix is applied per archive path, not per bucket
		blobs, err := gcs.NewFromEnv(ctx, gcs.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		a.closers = append(a.closers, blobs.Close)
		return blobs, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", a.cfg.Storage.Backend)
	}
}

func buildSolver(cfg config.CaptchaConfig, sleeper crawler.Sleeper, logger *zap.Logger) (captcha.Solver, error) {
	switch cfg.Provider {
	case "", "none":
		return captcha.Unavailable{}, nil
	case "2captcha":
		solver, err := captcha.NewTwoCaptcha(captcha.TwoCaptchaConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			PollInterval: cfg.PollInterval,
			Timeout:      cfg.Timeout,
		}, nil, sleeper, logger)
		if err != nil {
			return nil, fmt.Errorf("init captcha solver: %w", err)
		}
		return solver, nil
	default:
		return nil, fmt.Errorf("unknown captcha provider: %s", cfg.Provider)
	}
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the configured novel store.
func (a *App) Store() NovelStore { return a.store }

// Pool returns the browser session pool.
func (a *App) Pool() *browser.PoolManager { return a.pool }

// Runs returns the run tracker exposed on /v1/run.
func (a *App) Runs() *api.RunTracker { return a.runs }

// Run executes the batches selected by mode. The pool is shut down on return.
func (a *App) Run(ctx context.Context, mode Mode) (orchestrator.Summary, error) {
	a.runs.Start()
	var (
		sum orchestrator.Summary
		err error
	)
	switch mode {
	case ModeAll, "":
		sum, err = a.runner.Run(ctx)
	case ModeNovels:
		sum.Novels, err = a.runner.RunNovels(ctx)
		a.runner.Close()
	case ModeChapters:
		sum.Chapters, err = a.runner.RunChapters(ctx)
		a.runner.Close()
	default:
		err = fmt.Errorf("unknown run mode %q", mode)
	}
	a.runs.Finish(sum, err)
	return sum, err
}

func (a *App) closePool() {
	if err := a.pool.CloseAll(); err != nil {
		a.logger.Warn("close browser pool", zap.Error(err))
	}
}

// Ready reports whether the store is reachable.
func (a *App) Ready(ctx context.Context) error {
	if p, ok := a.store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Handler returns the ops HTTP handler.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.pool, a.runs, a.Ready, a.logger).Handler()
}

// Serve runs the ops HTTP server until ctx is done. It is a no-op when the
// server is disabled.
func (a *App) Serve(ctx context.Context) error {
	if !a.cfg.Server.Enabled {
		return nil
	}
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port)),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting ops server", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown ops server: %w", err)
		}
		return nil
	}
}

// Close shuts down every service in reverse order of creation.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if a.pool != nil {
		a.closePool()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}
