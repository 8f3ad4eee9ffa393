// Package server builds the crawler's dependencies from configuration and
// runs the crawl loop alongside the status HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-crawler/internal/api"
	"github.com/JakeFAU/company-profile-crawler/internal/clock/system"
	"github.com/JakeFAU/company-profile-crawler/internal/config"
	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
	"github.com/JakeFAU/company-profile-crawler/internal/discovery"
	"github.com/JakeFAU/company-profile-crawler/internal/extractor"
	collyfetcher "github.com/JakeFAU/company-profile-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/company-profile-crawler/internal/gateway"
	"github.com/JakeFAU/company-profile-crawler/internal/governor"
	"github.com/JakeFAU/company-profile-crawler/internal/hash/sha256"
	"github.com/JakeFAU/company-profile-crawler/internal/id/uuid"
	"github.com/JakeFAU/company-profile-crawler/internal/logging"
	"github.com/JakeFAU/company-profile-crawler/internal/metrics"
	"github.com/JakeFAU/company-profile-crawler/internal/orchestrator"
	"github.com/JakeFAU/company-profile-crawler/internal/output"
	"github.com/JakeFAU/company-profile-crawler/internal/proxy"
	gcppublisher "github.com/JakeFAU/company-profile-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/company-profile-crawler/internal/search"
	gcsstorage "github.com/JakeFAU/company-profile-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/company-profile-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/company-profile-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/company-profile-crawler/internal/storage/postgres"
	redisstore "github.com/JakeFAU/company-profile-crawler/internal/storage/redis"
	"github.com/JakeFAU/company-profile-crawler/internal/tasks"
)

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	orchestrator *orchestrator.Orchestrator
	apiServer    *api.Server
	store        crawler.Store
	exports      crawler.BlobStore
	closers      []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Build creates the application's dependencies. Any error here is a setup
// failure and should end the process.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development || cfg.App.Debug, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("input", cfg.Input.File),
		zap.String("output", cfg.Output.File),
		zap.Bool("refresh_only", cfg.Search.RefreshOnly),
		zap.Bool("debug", cfg.App.Debug),
	)

	if err := app.build(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	inputTasks, err := tasks.LoadFile(cfg.Input.File)
	if err != nil {
		return fmt.Errorf("load input tasks: %w", err)
	}
	a.logger.Info("loaded input tasks", zap.Int("count", len(inputTasks)))

	client, err := a.setupClient()
	if err != nil {
		return err
	}
	proxies, err := a.setupProxies(ctx, client)
	if err != nil {
		return err
	}
	gov := governor.New(governor.Config{
		SearchDelay:        config.Delay(cfg.Governor.SecondsBetweenSearches),
		ProfileDelay:       config.Delay(cfg.Governor.SecondsBetweenProfiles),
		MaxRequestsPerHour: cfg.Governor.MaxRequestsPerHour,
		BudgetMargin:       cfg.Governor.BudgetMargin,
		CooldownMin:        cfg.Governor.CooldownMin,
		CooldownMax:        cfg.Governor.CooldownMax,
		ProbeRate:          cfg.Governor.ProbeRate,
		ProbeURL:           cfg.Governor.ProbeURL,
		ChallengeMarkers:   cfg.Governor.ChallengeMarkers,
	}, a.logger.Named("governor"), governor.WithProber(client))

	if a.store, err = a.setupStore(ctx); err != nil {
		return err
	}
	out := output.NewCSVFile(cfg.Output.File)
	gwOpts := []gateway.Option{gateway.WithRefresh(cfg.Search.RefreshOnly)}
	cache, err := a.setupRecentCache(ctx)
	if err != nil {
		return err
	}
	if cache != nil {
		gwOpts = append(gwOpts, gateway.WithRecentCache(cache, cfg.Schedule.RunInterval()))
	}
	gw := gateway.New(a.store, out, a.logger.Named("gateway"), gwOpts...)

	searcher, err := a.setupSearcher(client, gov)
	if err != nil {
		return err
	}
	blobs, err := a.setupExport(ctx)
	if err != nil {
		return err
	}
	a.exports = blobs
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	deps := orchestrator.Deps{
		Tasks:     inputTasks,
		Searcher:  searcher,
		Client:    client,
		Governor:  gov,
		Extractor: extractor.New(""),
		Gateway:   gw,
		Store:     a.store,
		Output:    out,
		Proxies:   proxies,
		Hasher:    sha256.New(),
		Clock:     system.New(),
		Sleeper:   system.NewSleeper(),
		IDs:       uuid.New(),
		Blobs:     blobs,
		Publisher: publisher,
	}
	a.orchestrator, err = orchestrator.New(orchestrator.Config{
		Interval:     cfg.Schedule.RunInterval(),
		Margin:       cfg.Schedule.Margin,
		Repeat:       cfg.Schedule.Repeat(),
		Resume:       cfg.Output.Resume,
		Refresh:      cfg.Search.RefreshOnly,
		Debug:        cfg.App.Debug,
		ExportPrefix: cfg.Export.Prefix,
		Topic:        cfg.PubSub.TopicName,
	}, deps, a.logger.Named("orchestrator"))
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}
	a.apiServer = api.NewServer(a.orchestrator, a.logger.Named("api"))
	return nil
}

func (a *App) setupClient() (*collyfetcher.Client, error) {
	cfg := a.cfg.HTTP
	var headers *collyfetcher.HeaderSet
	if cfg.HeadersFile != "" {
		var err error
		headers, err = collyfetcher.LoadHeaders(cfg.HeadersFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			a.logger.Warn("headers file not found, sending default headers", zap.String("path", cfg.HeadersFile))
		case err != nil:
			return nil, fmt.Errorf("load headers: %w", err)
		default:
			a.logger.Info("loaded captured headers", zap.Int("entries", headers.Len()))
		}
	}
	client, err := collyfetcher.New(collyfetcher.Config{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
		Headers:   headers,
	}, a.logger.Named("http"))
	if err != nil {
		return nil, fmt.Errorf("http client init failed: %w", err)
	}
	return client, nil
}

func (a *App) setupProxies(ctx context.Context, client *collyfetcher.Client) (*proxy.Manager, error) {
	cfg := a.cfg
	manager := proxy.NewManager(
		proxy.WithRandomUserAgents(cfg.HTTP.RandomizeUserAgent),
		proxy.WithFallbackUserAgent(cfg.HTTP.UserAgent),
	)
	if cfg.Proxy.ListFile != "" {
		if err := manager.LoadFile(cfg.Proxy.ListFile); err != nil {
			return nil, fmt.Errorf("load proxy list: %w", err)
		}
	}
	if cfg.Proxy.ListURL != "" {
		if err := manager.LoadURL(ctx, client, cfg.Proxy.ListURL); err != nil {
			return nil, fmt.Errorf("download proxy list: %w", err)
		}
	}
	a.logger.Info("proxy manager ready", zap.Int("proxies", manager.Len()))
	return manager, nil
}

func (a *App) setupStore(ctx context.Context) (crawler.Store, error) {
	switch a.cfg.DB.Driver {
	case "postgres":
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:      a.cfg.DB.DSN,
			MaxConns: a.cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("profile store init failed: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("profile store schema: %w", err)
		}
		a.logger.Info("using postgres profile store")
		return store, nil
	default:
		a.logger.Info("using in-memory profile store")
		return memorystorage.NewProfileStore(), nil
	}
}

func (a *App) setupRecentCache(ctx context.Context) (crawler.RecentCache, error) {
	if a.cfg.Dedup.RedisAddr == "" {
		return nil, nil
	}
	cache, err := redisstore.New(ctx, a.cfg.Dedup.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("recent cache init failed: %w", err)
	}
	a.closers = append(a.closers, namedCloser{name: "redis", close: cache.Close})
	a.logger.Info("recent cache enabled", zap.String("addr", a.cfg.Dedup.RedisAddr))
	return cache, nil
}

func (a *App) setupSearcher(client crawler.HTTPClient, gov crawler.Governor) (*search.Searcher, error) {
	cfg := a.cfg
	since, err := cfg.Search.NewCompaniesSinceDate()
	if err != nil {
		return nil, fmt.Errorf("parse new_companies_since: %w", err)
	}
	var disc crawler.DiscoveryClient
	if cfg.Search.UseSecondaryEngine {
		engineClient, err := collyfetcher.New(collyfetcher.Config{
			BaseURL:   cfg.Discovery.BaseURL,
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   cfg.HTTP.Timeout,
		}, a.logger.Named("discovery_http"))
		if err != nil {
			return nil, fmt.Errorf("discovery client init failed: %w", err)
		}
		target, err := url.Parse(cfg.HTTP.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse http.base_url: %w", err)
		}
		disc = discovery.NewGoogle(engineClient, target.Host, a.logger.Named("discovery"))
	}
	return search.New(search.Config{
		ResultLimit:         cfg.Search.ResultLimit,
		FilterStep:          cfg.Search.EffectiveFilterStep(),
		MaxFilterValue:      cfg.Search.MaxFilterValue,
		PageLimit:           cfg.Search.PageLimit,
		PageSize:            cfg.Search.PageSize,
		RefreshOnly:         cfg.Search.RefreshOnly,
		NewCompaniesSince:   since,
		UseSecondaryEngine:  cfg.Search.UseSecondaryEngine,
		SecondaryMaxResults: cfg.Search.SecondaryMaxResults,
	}, client, gov, disc, a.logger.Named("search")), nil
}

func (a *App) setupExport(ctx context.Context) (crawler.BlobStore, error) {
	cfg := a.cfg.Export
	switch cfg.Provider {
	case "gcs":
		store, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.closers = append(a.closers, namedCloser{name: "gcs", close: store.Close})
		a.logger.Info("exporting output to GCS", zap.String("bucket", cfg.GCSBucket))
		return store, nil
	case "memory":
		a.logger.Info("exporting output to memory")
		return memorystorage.NewBlobStore(), nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("exporting output to local directory", zap.String("path", cfg.BaseDir))
		return store, nil
	default:
		a.logger.Info("output export disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	cfg := a.cfg.PubSub
	if cfg.TopicName == "" || cfg.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, profile events disabled")
		return nil, nil
	}
	pub, closeFn, err := gcppublisher.Dial(ctx, cfg.ProjectID, cfg.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.closers = append(a.closers, namedCloser{name: "pubsub", close: closeFn})
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return pub, nil
}

// Run starts the status server and the crawl loop, and blocks until the loop
// ends or a termination signal arrives. A crawl error is logged and returned
// after the shutdown sequence has run.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if a.cfg.Server.Port > 0 {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
			}
		}()
	}

	runErr := a.orchestrator.RunRepeatedly(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if runErr != nil {
		a.logger.Error("crawl loop failed", zap.Error(runErr))
	}
	a.logger.Info("shutdown initiated")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	a.Close()
	return runErr
}

// Close releases infrastructure clients and flushes the logger.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTTY) {
		fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", err)
	}
}

func (a *App) closeInfrastructure() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
	a.logger.Info("shutdown complete")
}
