package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/urfave/cli/v2"

	"github.com/okian/podium/internal/adapters/http/api"
	"github.com/okian/podium/internal/adapters/http/swagger"
	"github.com/okian/podium/internal/adapters/ledger"
	"github.com/okian/podium/internal/adapters/mq/riverq"
	"github.com/okian/podium/internal/adapters/notify"
	app "github.com/okian/podium/internal/app"
	"github.com/okian/podium/internal/config"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "podium",
		Usage: "leaderboard ranking engine",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and the ranking engine",
				Action: func(c *cli.Context) error { return serve(c.Context) },
			},
			{
				Name:   "migrate",
				Usage:  "create the ledger schema and, for the river backend, the queue tables",
				Action: func(c *cli.Context) error { return migrate(c.Context) },
			},
		},
		Action: func(c *cli.Context) error { return serve(c.Context) },
	}
}

// setup loads configuration and initialises logging.
func setup(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, nil
}

func openLedger(ctx context.Context, cfg *config.Config) (*ledger.BunLedger, error) {
	l, err := ledger.Open(ctx, cfg.LedgerDriver, cfg.LedgerDSN,
		ledger.WithTimeout(cfg.LedgerTimeout),
		ledger.WithLogger(logger.Named("ledger")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return l, nil
}

func migrate(ctx context.Context) error {
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	log := logger.Named("migrate")

	l, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	if err := l.CreateSchema(ctx); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	log.Info(ctx, "ledger schema ready", logger.String("driver", cfg.LedgerDriver))

	if cfg.QueueBackend == config.QueueRiver {
		if err := riverq.Migrate(ctx, cfg.LedgerDSN); err != nil {
			return err
		}
		log.Info(ctx, "river schema ready")
	}
	return nil
}

func serve(parent context.Context) error {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	log := logger.Get()
	defer func() { _ = logger.Sync() }()

	base, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = base.Close() }()
	if err := base.CreateSchema(ctx); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	led := ledger.NewBreaker(base, uint32(max(cfg.BreakerFailures, 0)), cfg.BreakerCooldown, logger.Named("ledger_breaker")) //nolint:gosec // bounded above zero

	opts := []app.Option{
		app.WithLogger(logger.Named("service")),
		app.WithLedger(led),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithJobMaxAttempts(cfg.JobMaxAttempts),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithLimits(cfg.DefaultLimit, cfg.MaxLimit),
		app.WithRebuildWindow(cfg.RebuildWindow),
		app.WithIdleTTL(cfg.IdleTTL),
		app.WithReconcileInterval(cfg.ReconcileInterval),
		app.WithSubscriberBuffer(cfg.SubscriberBuffer),
		app.WithDropPolicy(cfg.DropPolicy),
	}

	if cfg.QueueBackend == config.QueueRiver {
		if err := riverq.Migrate(ctx, cfg.LedgerDSN); err != nil {
			return err
		}
		jobs, err := riverq.New(ctx, cfg.LedgerDSN, led,
			riverq.WithMaxWorkers(cfg.WorkerCount),
			riverq.WithLogger(logger.Named("riverq")),
		)
		if err != nil {
			return err
		}
		if err := jobs.Start(ctx); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := jobs.Shutdown(shutdownCtx); err != nil {
				log.Error(shutdownCtx, "river shutdown failed", logger.Error(err))
			}
		}()
		opts = append(opts, app.WithJobQueue(jobs))
	}

	svc := app.New(opts...)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Stop()

	if cfg.NATSURL != "" {
		bridge, err := startBridge(ctx, cfg, svc.Hub())
		if err != nil {
			return err
		}
		defer bridge()
	}

	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(svc, cfg),
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	log.Info(shutdownCtx, "server stopped")
	return nil
}

// newRouter mounts the business API and its documentation.
func newRouter(svc *app.Service, cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	swagger.Register(r)
	api.NewServer(svc, svc.Hub(), svc,
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithLogger(logger.Named("http")),
	).Register(r)
	return r
}

// startBridge relays hub events across instances. The returned func stops it.
func startBridge(ctx context.Context, cfg *config.Config, hub *notify.Hub) (func(), error) {
	if hub == nil {
		return nil, errors.New("nats bridge needs the built-in notification hub")
	}
	nc, err := notify.Connect(cfg.NATSURL, "podium")
	if err != nil {
		return nil, err
	}
	bridge := notify.NewNATSBridge(nc, hub, cfg.NATSSubjectPrefix, logger.Named("nats"))
	if err := bridge.Start(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return func() {
		_ = bridge.Stop()
		nc.Close()
	}, nil
}

// startServiceMetricsUpdater periodically exports service gauges.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateServiceMetrics copies the queue and worker figures from GetStats.
func updateServiceMetrics(svc interface{ GetStats() map[string]interface{} }) {
	stats := svc.GetStats()
	if queueLen, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize(queueLen)
	}
	if workerCount, ok := stats["workerCount"].(int); ok {
		metrics.UpdateWorkerCount(workerCount)
	}
}
