// Package serverapp owns the runtime resources and lifecycle of the
// bundled mutation server: configuration, logging, observability,
// storage selection, and the HTTP surface.
package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/graphql-go/handler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"golang.org/x/sync/errgroup"

	"list-mutator/internal/access"
	"list-mutator/internal/config"
	"list-mutator/internal/logging"
	"list-mutator/internal/mutate"
	"list-mutator/internal/observability"
	"list-mutator/internal/resolve"
	"list-mutator/internal/schema"
	"list-mutator/internal/storage"
	"list-mutator/internal/storage/badgerstore"
	"list-mutator/internal/storage/memstore"
	"list-mutator/internal/storage/sqlstore"
)

// App owns runtime resources for the server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *sdklog.LoggerProvider
	meterProvider  *observability.MeterProvider
	tracerProvider *observability.TracerProvider

	collections []*schema.Collection
	store       storage.Store
	resolver    *resolve.Resolver
	ops         *mutate.Operations

	srv *http.Server

	cleanup cleanupStack

	stateMu     sync.Mutex
	initialized bool

	shutdownOnce sync.Once
}

// InitLogger builds the structured logger, attaching the OTLP log
// exporter when configured.
func InitLogger(cfg *config.Config) (*logging.Logger, *sdklog.LoggerProvider, error) {
	var provider *sdklog.LoggerProvider
	if cfg.Observability.Logging.ExportsEnabled {
		var err error
		provider, err = observability.InitLoggerProvider(context.Background(), cfg.OTelConfig())
		if err != nil {
			return nil, nil, err
		}
	}
	logger := logging.NewLogger(logging.Config{
		Level:          cfg.Observability.Logging.Level,
		Format:         cfg.Observability.Logging.Format,
		LoggerProvider: provider,
	})
	return logger, provider, nil
}

// New creates an App lifecycle wrapper over the demo collections.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &App{cfg: cfg, logger: logger, collections: DemoCollections()}, nil
}

// AttachLoggerProvider registers an optional logger provider for
// shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *sdklog.LoggerProvider) {
	if provider == nil {
		return
	}
	a.loggerProvider = provider
	a.cleanup.push("logger provider", func(ctx context.Context) error {
		return provider.Shutdown(ctx)
	})
}

// Init acquires all runtime resources in dependency order.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.initialized {
		return nil
	}

	if err := a.initObservability(ctx); err != nil {
		return err
	}
	if err := a.initStorage(); err != nil {
		return err
	}
	if err := a.initEngine(); err != nil {
		return err
	}
	if err := a.initHTTP(); err != nil {
		return err
	}

	a.initialized = true
	return nil
}

func (a *App) initObservability(ctx context.Context) error {
	otelCfg := a.cfg.OTelConfig()

	if a.cfg.Observability.MetricsEnabled {
		meterProvider, err := observability.InitMeterProvider(otelCfg)
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		a.meterProvider = meterProvider
		a.cleanup.push("meter provider", func(ctx context.Context) error {
			return meterProvider.Shutdown(ctx, a.logger.Logger)
		})
	}

	if a.cfg.Observability.TracingEnabled {
		tracerProvider, err := observability.InitTracerProvider(ctx, otelCfg)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		if tracerProvider != nil {
			a.tracerProvider = tracerProvider
			a.cleanup.push("tracer provider", func(ctx context.Context) error {
				return tracerProvider.Shutdown(ctx, a.logger.Logger)
			})
			a.logger.Info("tracing enabled",
				slog.String("endpoint", a.cfg.Observability.OTLP.Endpoint))
		}
	}
	return nil
}

func (a *App) initStorage() error {
	switch a.cfg.Database.Driver {
	case "memory":
		a.store = memstore.New(a.collections...)
	case "badger":
		store, err := badgerstore.Open(a.cfg.Database.Path, a.logger.Logger, a.collections...)
		if err != nil {
			return fmt.Errorf("failed to open badger store: %w", err)
		}
		a.store = store
		a.cleanup.push("badger store", func(context.Context) error { return store.Close() })
	case sqlstore.DriverSQLite, sqlstore.DriverMySQL:
		store, err := sqlstore.Open(a.cfg.Database.Driver, a.cfg.Database.DSN, sqlstore.Options{
			MaxOpenConns:    a.cfg.Database.MaxOpenConns,
			MaxIdleConns:    a.cfg.Database.MaxIdleConns,
			ConnMaxLifetime: a.cfg.Database.ConnMaxLifetime,
		}, a.collections...)
		if err != nil {
			return fmt.Errorf("failed to open sql store: %w", err)
		}
		a.store = store
		a.cleanup.push("sql store", func(context.Context) error { return store.Close() })
	default:
		return fmt.Errorf("unsupported database driver %q", a.cfg.Database.Driver)
	}
	a.logger.Info("storage initialized",
		slog.String("driver", a.cfg.Database.Driver),
		slog.Int("max_write_concurrency", a.store.MaxWriteConcurrency()),
	)
	return nil
}

func (a *App) initEngine() error {
	resolver, err := resolve.New(a.store, a.collections...)
	if err != nil {
		return fmt.Errorf("failed to build resolver: %w", err)
	}
	a.resolver = resolver

	var metrics *observability.MutationMetrics
	if a.meterProvider != nil {
		metrics, err = observability.InitMutationMetrics()
		if err != nil {
			return fmt.Errorf("failed to create mutation metrics: %w", err)
		}
	}

	checker := access.AllowAll(a.store, resolver.ResolveUniqueFilter)
	a.ops = mutate.New(resolver, checker, metrics)
	return nil
}

func (a *App) initHTTP() error {
	gqlSchema, err := BuildSchema(a.ops, a.resolver, a.collections)
	if err != nil {
		return fmt.Errorf("failed to build GraphQL schema: %w", err)
	}

	gqlHandler := handler.New(&handler.Config{
		Schema:     &gqlSchema,
		Pretty:     true,
		GraphiQL:   a.cfg.Server.GraphiQLEnabled,
		Playground: false,
	})

	mux := http.NewServeMux()
	mux.Handle("/graphql", gqlHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if a.cfg.Observability.MetricsEnabled && a.meterProvider != nil {
		mux.Handle("/metrics", promhttp.Handler())
		a.logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}

	var root http.Handler = mux
	if a.cfg.Observability.MetricsEnabled || a.cfg.Observability.TracingEnabled {
		root = otelhttp.NewHandler(root, "http.server")
	}

	a.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      root,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}
	return nil
}

// Run serves HTTP until ctx is cancelled or the server fails, then
// shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	a.stateMu.Lock()
	initialized := a.initialized
	a.stateMu.Unlock()
	if !initialized {
		return fmt.Errorf("app is not initialized")
	}

	a.logger.Info("server listening", slog.String("addr", a.srv.Addr))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown releases all acquired resources. Safe to call multiple
// times.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.shutdownOnce.Do(func() {
		a.cleanup.run(ctx, a.logger)
	})
	return nil
}

// cleanupStack manages shutdown functions in LIFO order. Resources are
// released in reverse order of acquisition.
type cleanupStack struct {
	items []cleanupItem
}

type cleanupItem struct {
	name string
	fn   func(context.Context) error
}

func (s *cleanupStack) push(name string, fn func(context.Context) error) {
	s.items = append(s.items, cleanupItem{name: name, fn: fn})
}

func (s *cleanupStack) run(ctx context.Context, logger *logging.Logger) {
	for i := len(s.items) - 1; i >= 0; i-- {
		item := s.items[i]
		if logger != nil {
			logger.Info("shutting down " + item.name)
		}
		if err := item.fn(ctx); err != nil && logger != nil {
			logger.Warn("cleanup error",
				slog.String("component", item.name),
				slog.String("error", err.Error()),
			)
		}
	}
}
