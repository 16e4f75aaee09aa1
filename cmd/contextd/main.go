// Command contextd launches the Centra context aggregation service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/solsticehq/centra/config"
	"github.com/solsticehq/centra/internal/aggregate"
	"github.com/solsticehq/centra/internal/breaker"
	"github.com/solsticehq/centra/internal/cache"
	"github.com/solsticehq/centra/internal/health"
	"github.com/solsticehq/centra/internal/notify"
	"github.com/solsticehq/centra/internal/observability"
	httpserver "github.com/solsticehq/centra/internal/server/http"
	"github.com/solsticehq/centra/internal/sources"
	"github.com/solsticehq/centra/internal/sources/builtin"
	"github.com/solsticehq/centra/internal/sources/crm"
	"github.com/solsticehq/centra/internal/sources/messaging"
	"github.com/solsticehq/centra/internal/sources/scheduling"
	"github.com/solsticehq/centra/internal/store"
	"github.com/solsticehq/centra/internal/store/memory"
	"github.com/solsticehq/centra/internal/store/migrations"
	"github.com/solsticehq/centra/internal/store/postgres"
	"github.com/solsticehq/centra/internal/telemetry"
)

const (
	defaultConfigPath         = "config/app.yaml"
	serviceLoggerPrefix       = "contextd "
	shutdownTimeout           = 30 * time.Second
	apiShutdownTimeout        = 5 * time.Second
	lifecycleShutdownTimeout  = 10 * time.Second
	dispatcherShutdownTimeout = 5 * time.Second
	telemetryShutdownTimeout  = 5 * time.Second
	readHeaderTimeout         = 5 * time.Second
	healthProbeTimeout        = 2 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newServiceLogger()

	cfg, err := config.Load(resolveConfigPath(logger, cfgPathFlag))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s, store=%s, cache=%s",
		cfg.Environment, cfg.Store.Backend, cacheLabel(cfg.Cache))

	observability.SetLogger(observability.NewStdLogger(logger, cfg.Environment == config.EnvDev))

	provider, metrics, err := initTelemetry(ctx, logger, cfg)
	if err != nil {
		logger.Fatalf("initialise telemetry: %v", err)
	}

	st, err := buildStore(ctx, logger, cfg)
	if err != nil {
		logger.Fatalf("initialise store: %v", err)
	}

	svcs, err := buildSources(logger, cfg.Sources)
	if err != nil {
		logger.Fatalf("initialise sources: %v", err)
	}

	results, remote := buildResultCache(cfg.Cache)
	if local, ok := results.(*cache.Local); ok && cfg.Cache.JanitorInterval > 0 {
		local.StartJanitor(ctx, cfg.Cache.JanitorInterval)
	}

	sections := cache.New[any](cache.Config{
		TTL:        cfg.Cache.SectionTTL,
		MaxEntries: cfg.Cache.MaxEntries,
		Disabled:   !cfg.Cache.Enabled,
	})
	if cfg.Cache.JanitorInterval > 0 {
		sections.StartJanitor(ctx, cfg.Cache.JanitorInterval)
	}

	breakers := buildBreakers(cfg.Breaker, logger, metrics)

	var dispatcher *notify.Dispatcher
	deps := aggregate.Deps{
		Store:      st,
		CRM:        svcs.crm,
		Scheduling: svcs.scheduling,
		Messaging:  svcs.messaging,
		Results:    results,
		Sections:   sections,
		Breakers:   breakers,
		Metrics:    metrics,
	}
	if cfg.Notify.Enabled && svcs.messaging != nil {
		dispatcher, err = notify.NewDispatcher(svcs.messaging, notify.Config{
			Workers:       cfg.Notify.Workers,
			Queue:         cfg.Notify.Queue,
			RatePerSecond: cfg.Notify.RatePerSecond,
			Burst:         cfg.Notify.Burst,
		}, metrics)
		if err != nil {
			logger.Fatalf("initialise notification dispatcher: %v", err)
		}
		deps.Dispatcher = dispatcher
	}

	manager, err := aggregate.NewManager(deps, aggregate.Config{
		MaxCost:       cfg.Aggregate.MaxCost,
		SourceTimeout: cfg.Aggregate.SourceTimeout,
		ContextTTL:    cfg.Cache.ContextTTL,
		SectionTTL:    cfg.Cache.SectionTTL,
	})
	if err != nil {
		logger.Fatalf("initialise aggregation manager: %v", err)
	}

	prober := buildProber(st, svcs, remote)

	server := buildAPIServer(cfg.API, manager, prober)

	var lifecycle conc.WaitGroup
	startAPIServer(&lifecycle, logger, server)
	if metrics != nil {
		startCacheMetricsFlush(ctx, &lifecycle, manager, cfg.Cache.JanitorInterval)
	}
	logger.Printf("listening on %s", cfg.API.Addr)

	<-ctx.Done()
	logger.Print("shutdown signal received")

	shutdownStart := time.Now()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     server,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		dispatcher: dispatcher,
		remote:     remote,
		telemetry:  provider,
		store:      st,
	})
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newServiceLogger() *log.Logger {
	return log.New(os.Stdout, serviceLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

// resolveConfigPath falls back to the default file only when it exists, so a
// bare binary still boots on built-in defaults.
func resolveConfigPath(logger *log.Logger, flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	logger.Printf("configuration file not found, using defaults")
	return ""
}

func cacheLabel(cfg config.CacheSettings) string {
	if !cfg.Enabled {
		return "disabled"
	}
	return cfg.Backend
}

func initTelemetry(ctx context.Context, logger *log.Logger, cfg config.Settings) (*telemetry.Provider, *telemetry.Metrics, error) {
	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.Enabled = cfg.Telemetry.Enabled
	if cfg.Telemetry.Endpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.Telemetry.Endpoint
	}
	telemetryCfg.Environment = string(cfg.Environment)

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if !telemetryCfg.Enabled {
		logger.Printf("telemetry disabled")
		return provider, nil, nil
	}

	metrics, err := telemetry.NewMetrics(provider.Meter("centra.runtime"))
	if err != nil {
		return nil, nil, fmt.Errorf("register service metrics: %w", err)
	}
	logger.Printf("telemetry initialized: endpoint=%s", telemetryCfg.OTLPEndpoint)
	return provider, metrics, nil
}

func buildStore(ctx context.Context, logger *log.Logger, cfg config.Settings) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.StorePostgres:
		if err := migrations.Apply(ctx, cfg.Store.DSN, logger); err != nil {
			return nil, fmt.Errorf("apply store migrations: %w", err)
		}
		st, err := postgres.New(ctx, postgres.Config{DSN: cfg.Store.DSN})
		if err != nil {
			return nil, err
		}
		logger.Print("postgres store connected")
		return st, nil
	default:
		logger.Printf("memory store initialised: customers=%d", len(cfg.Store.Customers))
		return memory.New(memory.Config{Customers: cfg.Store.Customers}), nil
	}
}

type sourceSet struct {
	crm        crm.Service
	scheduling scheduling.Service
	messaging  messaging.Service
}

func buildSources(logger *log.Logger, cfg config.SourcesSettings) (sourceSet, error) {
	registry := sources.NewRegistry()
	builtin.RegisterAll(registry)

	var (
		set sourceSet
		err error
	)
	if cfg.CRM.Enabled {
		if set.crm, err = crm.FromRegistry(registry, sourceOptions(cfg.CRM)); err != nil {
			return sourceSet{}, fmt.Errorf("create crm source: %w", err)
		}
	}
	if cfg.Scheduling.Enabled {
		if set.scheduling, err = scheduling.FromRegistry(registry, sourceOptions(cfg.Scheduling)); err != nil {
			return sourceSet{}, fmt.Errorf("create scheduling source: %w", err)
		}
	}
	if cfg.Messaging.Enabled {
		if set.messaging, err = messaging.FromRegistry(registry, sourceOptions(cfg.Messaging)); err != nil {
			return sourceSet{}, fmt.Errorf("create messaging source: %w", err)
		}
	}
	logger.Printf("sources configured: crm=%t, scheduling=%t, messaging=%t",
		set.crm != nil, set.scheduling != nil, set.messaging != nil)
	return set, nil
}

func sourceOptions(cfg config.SourceSettings) sources.Options {
	return sources.Options{
		Provider:   cfg.Provider,
		LatencyMin: cfg.LatencyMin,
		LatencyMax: cfg.LatencyMax,
		StreamURL:  cfg.StreamURL,
	}
}

// buildResultCache selects the full-context cache backend. The second return
// is non-nil only for Redis, where the process owns a client connection it
// must ping and close.
func buildResultCache(cfg config.CacheSettings) (aggregate.ResultCache, *cache.Remote) {
	if cfg.Enabled && cfg.Backend == config.CacheRedis {
		remote := cache.NewRemote(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return remote, remote
	}
	local := cache.NewLocal(cache.Config{
		TTL:        cfg.ContextTTL,
		MaxEntries: cfg.MaxEntries,
		Disabled:   !cfg.Enabled,
	})
	return local, nil
}

func buildBreakers(cfg config.BreakerSettings, logger *log.Logger, metrics *telemetry.Metrics) *breaker.Registry {
	defaults := breaker.Config{
		FailureThreshold:     cfg.FailureThreshold,
		OpenTimeout:          cfg.OpenTimeout,
		HalfOpenResetTimeout: cfg.HalfOpenResetTimeout,
		OnTransition: func(name string, from, to breaker.State) {
			logger.Printf("breaker %s: %s -> %s", name, from, to)
			metrics.RecordBreakerTransition(context.Background(), name, string(to))
		},
	}
	overrides := make(map[string]breaker.Config, len(cfg.Overrides))
	for name, override := range cfg.Overrides {
		merged := defaults
		if override.FailureThreshold > 0 {
			merged.FailureThreshold = override.FailureThreshold
		}
		if override.OpenTimeout > 0 {
			merged.OpenTimeout = override.OpenTimeout
		}
		if override.HalfOpenResetTimeout > 0 {
			merged.HalfOpenResetTimeout = override.HalfOpenResetTimeout
		}
		overrides[name] = merged
	}
	return breaker.NewRegistry(defaults, overrides)
}

func buildProber(st store.Store, svcs sourceSet, remote *cache.Remote) *health.Prober {
	prober := health.NewProber(healthProbeTimeout)
	prober.Register("store", true, st.Ping)
	if svcs.crm != nil {
		prober.Register("crm", false, svcs.crm.HealthCheck)
	}
	if svcs.scheduling != nil {
		prober.Register("scheduling", false, svcs.scheduling.HealthCheck)
	}
	if svcs.messaging != nil {
		prober.Register("messaging", false, svcs.messaging.HealthCheck)
	}
	if remote != nil {
		prober.Register("redis", false, remote.Ping)
	}
	return prober
}

func buildAPIServer(cfg config.APISettings, manager *aggregate.Manager, prober *health.Prober) *http.Server {
	handler := httpserver.NewHandler(manager, prober, httpserver.Options{
		CORSOrigin:   cfg.CORSOrigin,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func startCacheMetricsFlush(ctx context.Context, lifecycle *conc.WaitGroup, manager *aggregate.Manager, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	lifecycle.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				manager.FlushCacheMetrics(context.Background())
				return
			case <-ticker.C:
				manager.FlushCacheMetrics(ctx)
			}
		}
	})
}

func startAPIServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("api server: %v", err)
		}
	})
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	dispatcher *notify.Dispatcher
	remote     *cache.Remote
	telemetry  *telemetry.Provider
	store      store.Store
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping api server", apiShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.dispatcher != nil {
		shutdownStep("draining notification dispatcher", dispatcherShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.dispatcher.Shutdown(stepCtx)
		})
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("flushing telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}

	if cfg.remote != nil {
		if err := cfg.remote.Close(); err != nil {
			logger.Printf("shutdown: closing redis client failed: %v", err)
		}
	}

	if cfg.store != nil {
		cfg.store.Close()
		logger.Print("shutdown: store closed")
	}
}
