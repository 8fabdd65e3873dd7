// Command gateway runs the solroute order gateway: the HTTP intake API, the
// websocket streaming endpoint, and the worker pool that drives queued orders
// through routing, building, and settlement.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/solroute/solroute/config"
	"github.com/solroute/solroute/internal/adapters"
	"github.com/solroute/solroute/internal/bus/eventbus"
	"github.com/solroute/solroute/internal/domain/orderstore"
	"github.com/solroute/solroute/internal/executor"
	"github.com/solroute/solroute/internal/infra/persistence/migrations"
	"github.com/solroute/solroute/internal/infra/persistence/postgres"
	httpserver "github.com/solroute/solroute/internal/infra/server/http"
	"github.com/solroute/solroute/internal/live"
	"github.com/solroute/solroute/internal/observability"
	"github.com/solroute/solroute/internal/queue"
	"github.com/solroute/solroute/internal/router"
	"github.com/solroute/solroute/internal/worker"
	"github.com/solroute/solroute/lib/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	gatewayLoggerPrefix      = "solroute-gateway "
	shutdownTimeout          = 30 * time.Second
	apiServerShutdownTimeout = 5 * time.Second
	workerShutdownTimeout    = 10 * time.Second
	busShutdownTimeout       = 2 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	apiReadHeaderTimeout     = 5 * time.Second
	migrateTimeout           = 30 * time.Second
)

func main() {
	configPath := parseFlags()

	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newGatewayLogger()
	observability.SetLogger(observability.NewStdLogger(logger))

	cfg, loadedFromFile, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		logger.Fatalf("load configuration: %v", err)
	}
	if loadedFromFile {
		logger.Printf("configuration loaded from %s", resolveConfigPath(configPath))
	} else {
		logger.Print("configuration file not found; using defaults")
	}

	_, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	} else {
		logger.Print("telemetry disabled; using noop providers")
	}

	store, closeStore, err := buildOrderStore(ctx, logger, cfg.Database)
	if err != nil {
		logger.Fatalf("initialize order store: %v", err)
	}

	providers, err := adapters.Build(cfg.Providers, nil)
	if err != nil {
		logger.Fatalf("build venue providers: %v", err)
	}
	logger.Printf("venue providers registered: %d", len(providers))

	route := router.New(router.Config{QuoteTimeout: cfg.Router.QuoteTimeout.Std()}, providers...)
	exec := executor.New(executor.Config{
		SettleDelayMin: cfg.Executor.SettleDelayMin.Std(),
		SettleDelayMax: cfg.Executor.SettleDelayMax.Std(),
	})

	jobQueue := queue.NewMemoryQueue(queue.Config{
		MaxAttempts:  cfg.Queue.MaxAttempts,
		BaseDelay:    cfg.Queue.BaseDelay.Std(),
		MaxDelay:     cfg.Queue.MaxDelay.Std(),
		LeaseTimeout: cfg.Queue.LeaseTimeout.Std(),
	})
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{})

	pool := worker.New(worker.Config{
		Count:      cfg.Workers.Count,
		BuildPause: cfg.Workers.BuildPause.Std(),
	}, jobQueue, store, route, exec, bus)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		pool.Run(workerCtx)
	})
	logger.Printf("worker pool started: %d workers", cfg.Workers.Count)

	liveSrv := live.NewServer(store, bus)
	apiServer := buildAPIServer(cfg.Server, store, jobQueue, liveSrv)
	startAPIServer(&lifecycle, logger, apiServer)
	logger.Printf("order API listening on %s", apiServer.Addr)

	logger.Print("gateway started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:       apiServer,
		workerCancel: workerCancel,
		lifecycle:    &lifecycle,
		queue:        jobQueue,
		bus:          bus,
		closeStore:   closeStore,
		telemetry:    telemetryShutdown,
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

func newGatewayLogger() *log.Logger {
	return log.New(os.Stdout, gatewayLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

// buildOrderStore selects the persistence backend: an empty DSN keeps orders
// in memory, otherwise a pgx pool is opened and migrations applied.
func buildOrderStore(ctx context.Context, logger *log.Logger, cfg config.DatabaseSettings) (orderstore.Store, func(), error) {
	if cfg.DSN == "" {
		logger.Print("no database configured; using in-memory order store")
		return orderstore.NewMemoryStore(nil), func() {}, nil
	}

	migrateCtx, cancel := context.WithTimeout(ctx, migrateTimeout)
	defer cancel()
	if err := migrations.Apply(migrateCtx, cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	pg := postgres.New(pool)
	logger.Print("postgres order store initialized")
	return postgres.NewOrderStore(pg.Pool()), pool.Close, nil
}

func buildAPIServer(cfg config.ServerSettings, store orderstore.Store, q queue.Queue, liveSrv *live.Server) *http.Server {
	handler := httpserver.NewHandler(httpserver.Config{
		RatePerSecond: cfg.RatePerSecond,
		RateBurst:     cfg.RateBurst,
	}, store, q, liveSrv)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: apiReadHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("order API server: %v", err)
		}
	})
}

type gracefulShutdownConfig struct {
	server       *http.Server
	workerCancel context.CancelFunc
	lifecycle    *conc.WaitGroup
	queue        *queue.MemoryQueue
	bus          eventbus.Bus
	closeStore   func()
	telemetry    func(context.Context) error
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
		shutdownStep("stopping order API server", apiServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	// Closing the queue wakes blocked consumers; cancelling the worker
	// context stops in-flight attempts.
	if cfg.queue != nil {
		cfg.queue.Close()
	}
	if cfg.workerCancel != nil {
		cfg.workerCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", workerShutdownTimeout, func(stepCtx context.Context) error {
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

	if cfg.bus != nil {
		shutdownStep("closing event bus", busShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.bus.Close()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return stepCtx.Err()
			}
		})
	}

	if cfg.closeStore != nil {
		logger.Print("shutdown: closing order store")
		cfg.closeStore()
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, cfg.telemetry)
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}
