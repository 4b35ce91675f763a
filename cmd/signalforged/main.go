// Signalforged is the SignalForge posting scheduler daemon.
//
// It decides, per account, whether and what to post, publishes decisions to
// NATS JetStream and records them in the posting ledger. Runs are triggered
// by the in-process ticker, a Temporal cron workflow, or POST /scheduler/run.
//
// Usage:
//
//	# Start with defaults (SQLite store, NATS on localhost)
//	signalforged
//
//	# Start with a config file; environment still overrides it
//	SIGNALFORGE_SERVER_HTTP_PORT=9000 signalforged -config /etc/signalforge/config.yaml
//
//	# Print version information
//	signalforged version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/signalforge/internal/config"
	"github.com/fyrsmithlabs/signalforge/internal/coordinator"
	"github.com/fyrsmithlabs/signalforge/internal/engine"
	"github.com/fyrsmithlabs/signalforge/internal/guardrail"
	httpserver "github.com/fyrsmithlabs/signalforge/internal/http"
	"github.com/fyrsmithlabs/signalforge/internal/lock"
	"github.com/fyrsmithlabs/signalforge/internal/logging"
	"github.com/fyrsmithlabs/signalforge/internal/publish"
	"github.com/fyrsmithlabs/signalforge/internal/store"
	"github.com/fyrsmithlabs/signalforge/internal/telemetry"
	"github.com/fyrsmithlabs/signalforge/internal/workflows"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("SIGNALFORGE_CONFIG"), "path to YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  signalforged [-config path]   Start the scheduler daemon\n")
			fmt.Fprintf(os.Stderr, "  signalforged version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("signalforged by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version), nil)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	logCfg, err := logging.ConfigFromObservability(cfg.Observability)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zl := logger.Underlying()

	logger.Info(ctx, "starting signalforged",
		zap.String("version", version),
		zap.String("store_driver", cfg.Store.Driver),
		zap.Bool("posting_disabled", cfg.Scheduler.PostingDisabled),
	)

	deps, err := initDependencies(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer deps.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	eng := engine.New(
		engine.WithSeedBucket(cfg.Scheduler.SeedBucket.Duration()),
		engine.WithRecencyWindow(cfg.Scheduler.RecencyWindow.Duration()),
		engine.WithLogger(zl.Named("engine")),
	)

	coord, err := coordinator.New(deps.store, deps.store.Ledger(), deps.store.Pool(), eng, deps.publisher,
		coordinator.WithLocker(deps.locker),
		coordinator.WithConcurrency(cfg.Scheduler.Concurrency),
		coordinator.WithAccountTimeout(cfg.Scheduler.AccountTimeout.Duration()),
		coordinator.WithMaxPublishAttempts(cfg.Scheduler.MaxPublishAttempts),
		coordinator.WithPostingDisabled(deps.postingDisabled),
		coordinator.WithMetrics(coordinator.NewMetrics(registry)),
		coordinator.WithTracerProvider(tel.TracerProvider()),
		coordinator.WithLogger(zl.Named("coordinator")),
	)
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}

	if interval := cfg.Scheduler.RunInterval.Duration(); interval > 0 {
		ticker, err := coordinator.NewTicker(coord, interval, zl.Named("ticker"))
		if err != nil {
			return fmt.Errorf("creating ticker: %w", err)
		}
		if err := ticker.Start(); err != nil {
			return err
		}
		defer ticker.Stop()
	}

	if cfg.Temporal.Enabled {
		stop, err := startTemporal(ctx, cfg.Temporal, coord, zl.Named("temporal"))
		if err != nil {
			return err
		}
		defer stop()
	}

	checker, err := guardrail.New(guardrailConfig(cfg.Guardrails))
	if err != nil {
		return fmt.Errorf("creating guardrails: %w", err)
	}
	gate := guardrail.NewGate(checker, deps.store.Pool(), zl.Named("guardrail"), guardrail.WithRegisterer(registry))

	opts := []httpserver.Option{
		httpserver.WithGatherer(registry),
		httpserver.WithDrafts(gate),
		httpserver.WithHTTPMetrics(httpserver.NewHTTPMetrics(tel.Meter(httpserver.InstrumentationName), zl)),
		httpserver.WithHealthCheck("store", deps.store.Ping),
	}
	for name, check := range deps.healthChecks() {
		opts = append(opts, httpserver.WithHealthCheck(name, check))
	}
	srv, err := httpserver.NewServer(coord, deps.store, zl.Named("http"), &httpserver.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Token:   cfg.Auth.Token.Value(),
		Version: version,
	}, opts...)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "http server shutdown", zap.Error(err))
	}
	logger.Info(ctx, "signalforged stopped")
	return nil
}

func guardrailConfig(c config.GuardrailConfig) guardrail.Config {
	return guardrail.Config{
		MaxLength:                 c.MaxLength,
		MaxThreadPostLength:       c.MaxThreadPostLength,
		Blocklist:                 c.Blocklist,
		SimilarityThreshold:       c.SimilarityThreshold,
		SourceSimilarityThreshold: c.SourceSimilarityThreshold,
		ScanSecrets:               c.ScanSecrets,
	}
}

type dependencies struct {
	store           *store.Store
	natsConn        *nats.Conn
	redis           *goredis.Client
	publisher       publish.Publisher
	locker          lock.Locker
	postingDisabled bool
}

func (d *dependencies) Close() {
	if d.natsConn != nil {
		_ = d.natsConn.Drain()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
}

func (d *dependencies) healthChecks() map[string]httpserver.HealthCheck {
	checks := make(map[string]httpserver.HealthCheck)
	if d.natsConn != nil {
		nc := d.natsConn
		checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		}
	}
	if d.redis != nil {
		rc := d.redis
		checks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	}
	return checks
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN.Value(), logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	deps := &dependencies{
		store:           st,
		locker:          lock.NewLocal(),
		postingDisabled: cfg.Scheduler.PostingDisabled,
	}

	var pub publish.Publisher
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("signalforged"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.NATS.URL, err)
		}
		deps.natsConn = nc

		np, err := publish.NewNATS(nc, cfg.NATS.Stream, cfg.NATS.SubjectPrefix, logger.Named("publish"))
		if err != nil {
			deps.Close()
			return nil, err
		}
		if err := np.EnsureStream(ctx); err != nil {
			deps.Close()
			return nil, fmt.Errorf("ensuring stream %s: %w", cfg.NATS.Stream, err)
		}
		logger.Info("connected to NATS", zap.String("url", cfg.NATS.URL), zap.String("stream", cfg.NATS.Stream))
		pub = np
	} else {
		// Without a downstream there is nothing to accept posts, so
		// decisions are computed but never realized.
		logger.Warn("nats disabled, posting is disabled")
		deps.postingDisabled = true
		pub = publish.NewRecorder()
	}
	deps.publisher = publish.NewRateLimited(pub, cfg.Publish.RatePerSecond, cfg.Publish.Burst)

	if cfg.Redis.Enabled {
		rc := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Value(),
			DB:       cfg.Redis.DB,
		})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			deps.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		deps.redis = rc
		deps.locker = lock.NewRedis(rc, "signalforge", cfg.Redis.LockTTL.Duration(), logger.Named("lock"))
		logger.Info("using redis account locks", zap.String("addr", cfg.Redis.Addr))
	}

	return deps, nil
}

func startTemporal(ctx context.Context, cfg config.TemporalConfig, runner coordinator.Runner, logger *zap.Logger) (func(), error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}

	w := workflows.NewWorker(c, cfg.TaskQueue, runner, logger)
	if err := w.Start(); err != nil {
		c.Close()
		return nil, fmt.Errorf("starting temporal worker: %w", err)
	}
	logger.Info("temporal worker started", zap.String("task_queue", cfg.TaskQueue), zap.String("host", cfg.HostPort))

	if cfg.CronSchedule != "" {
		if err := workflows.StartCron(ctx, c, cfg.TaskQueue, cfg.CronSchedule, logger); err != nil {
			w.Stop()
			c.Close()
			return nil, err
		}
	}

	return func() {
		w.Stop()
		c.Close()
	}, nil
}
