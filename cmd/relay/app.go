package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/history"
	"mercator-hq/relay/pkg/providerfactory"
	"mercator-hq/relay/pkg/providers"
	"mercator-hq/relay/pkg/proxy"
	"mercator-hq/relay/pkg/selection"
	"mercator-hq/relay/pkg/server"
	"mercator-hq/relay/pkg/telemetry/health"
	"mercator-hq/relay/pkg/telemetry/metrics"
	"mercator-hq/relay/pkg/telemetry/tracing"
	"mercator-hq/relay/pkg/usage"
)

// Seams replaced in tests.
var (
	openAccountStore = func(cfg *config.Config) (accounts.Store, error) {
		store, err := accounts.NewSQLiteStore(accounts.SQLiteConfig{
			Path:        cfg.Accounts.Path,
			BusyTimeout: cfg.Accounts.BusyTimeout,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	newProvider = providerfactory.NewProvider
	openHistory = openHistoryStorage
)

// openHistoryStorage opens the configured history backend, or returns nil
// when history is disabled.
func openHistoryStorage(cfg *config.HistoryConfig) (history.Storage, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Backend {
	case "sqlite":
		sqliteConfig := history.DefaultSQLiteConfig()
		sqliteConfig.Path = cfg.Path
		store, err := history.NewSQLiteStorage(sqliteConfig)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		return history.NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported history backend: %s", cfg.Backend)
	}
}

// workerSource builds the usage worker source for the configured mode.
func workerSource(cfg *config.WorkerConfig) (usage.Source, error) {
	switch cfg.Mode {
	case "inprocess":
		maxCapture := cfg.MaxCaptureBytes
		return &usage.InProcessSource{
			MailboxSize:  cfg.MailboxSize,
			NewProcessor: func() usage.Processor { return usage.NewWorker(maxCapture) },
		}, nil
	case "subprocess":
		return &usage.SubprocessSource{
			Command:     cfg.Command,
			Args:        []string{"worker", "--max-capture", strconv.Itoa(cfg.MaxCaptureBytes)},
			MailboxSize: cfg.MailboxSize,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported worker mode: %s", cfg.Mode)
	}
}

// app holds every long-lived component of a running relay.
type app struct {
	cfg       *config.Config
	registry  *prometheus.Registry
	metrics   *metrics.Collector
	tracer    *tracing.Tracer
	store     accounts.Store
	history   history.Storage
	channel   *usage.Channel
	selector  *selection.Selector
	recorder  *history.Recorder
	scheduler *history.Scheduler
	health    *health.Checker
	server    *server.Server
	logger    *slog.Logger
}

// newApp wires the relay from cfg. Components that own goroutines are started
// by start, not here.
func newApp(cfg *config.Config) (a *app, err error) {
	a = &app{
		cfg:    cfg,
		logger: slog.Default().With("component", "relay"),
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, a.registry)

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return a, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracer = tracer

	store, err := openAccountStore(cfg)
	if err != nil {
		return a, fmt.Errorf("failed to open account store: %w", err)
	}
	a.store = store

	provider, err := newProvider(cfg.Provider)
	if err != nil {
		return a, fmt.Errorf("failed to initialize provider: %w", err)
	}
	client := providers.NewHTTPClient(providers.HTTPClientConfig{
		ResponseHeaderTimeout: cfg.Provider.Timeout,
	})

	bus := usage.NewBus()
	source, err := workerSource(&cfg.Worker)
	if err != nil {
		return a, err
	}
	a.channel, err = usage.NewChannel(usage.ChannelConfig{
		Source:        source,
		Bus:           bus,
		ShutdownDelay: cfg.Worker.ShutdownDelay,
		Metrics:       a.metrics,
	})
	if err != nil {
		return a, err
	}

	a.selector, err = selection.NewSelector(a.store, cfg.Selection)
	if err != nil {
		return a, fmt.Errorf("failed to initialize account selection: %w", err)
	}

	interceptor, err := proxy.NewAgentInterceptor(cfg.Agents, a.store)
	if err != nil {
		return a, fmt.Errorf("failed to compile agent rules: %w", err)
	}
	interceptor.WatchConfig()

	forwarder := proxy.NewForwarder(proxy.ForwarderConfig{
		Provider:            provider,
		Client:              client,
		Store:               a.store,
		Usage:               a.channel,
		FailoverStatusCodes: cfg.Provider.FailoverStatusCodes,
		RateLimitCooldown:   cfg.Selection.RateLimitCooldown,
		Metrics:             a.metrics,
	})

	coordinator, err := proxy.NewCoordinator(proxy.CoordinatorConfig{
		Provider:    provider,
		Selector:    a.selector,
		Upstream:    forwarder,
		Interceptor: interceptor,
		Accounts:    a.store,
		Expiry: accounts.ExpiryPolicy{
			RefreshTokenLifetime: cfg.Accounts.RefreshTokenLifetime,
		},
		MaxBodyBytes: cfg.Proxy.MaxBodyBytes,
		Tracer:       a.tracer,
		Metrics:      a.metrics,
	})
	if err != nil {
		return a, err
	}

	hist, err := openHistory(&cfg.History)
	if err != nil {
		return a, fmt.Errorf("failed to open history storage: %w", err)
	}
	a.history = hist
	a.recorder = history.NewRecorder(history.RecorderConfig{
		Bus:      bus,
		Storage:  a.history,
		Accounts: a.store,
		Metrics:  a.metrics,
	})
	if a.history != nil {
		pruner := history.NewPruner(a.history, history.RetentionConfigFrom(cfg.History.Retention))
		a.scheduler = history.NewScheduler(pruner)
	}

	a.health = health.New(5*time.Second, Version)
	a.registerChecks()

	metricsPath := ""
	var collector *metrics.Collector
	if cfg.Telemetry.Metrics.Enabled {
		collector = a.metrics
		metricsPath = cfg.Telemetry.Metrics.Path
	}
	a.server, err = server.NewServer(server.Options{
		Config:      &cfg.Proxy,
		Proxy:       proxy.NewHandler(coordinator),
		Metrics:     collector,
		MetricsPath: metricsPath,
		Health:      a.health,
		Accounts:    a.store,
		History:     a.history,
		Worker:      a.channel,
		Tracing:     a.tracer.Enabled(),
	})
	if err != nil {
		return a, err
	}

	return a, nil
}

func (a *app) registerChecks() {
	a.health.RegisterCheck("accounts", func(ctx context.Context) error {
		_, err := a.store.List(ctx)
		return err
	})
	if a.history != nil {
		a.health.RegisterCheck("history", func(ctx context.Context) error {
			_, err := a.history.Count(ctx, &history.Query{})
			return err
		})
	}
	a.health.RegisterCheck("worker", func(ctx context.Context) error {
		_, err := a.channel.Acquire()
		return err
	})
}

// start launches background components and serves until ctx is cancelled
// or the server stops.
func (a *app) start(ctx context.Context) error {
	// The recorder outlives ctx so that Stop drains what the worker flushes
	// during shutdown.
	a.recorder.Start(context.WithoutCancel(ctx))
	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			a.logger.Warn("failed to start history retention scheduler", "error", err)
		} else if next := a.scheduler.NextRun(); next != nil {
			a.logger.Debug("history retention scheduler started", "next_run", next)
		}
	}

	if path := config.Path(); path != "" {
		watcher, err := config.NewWatcher(path, 0)
		if err != nil {
			a.logger.Warn("config hot reload disabled", "error", err)
		} else {
			go func() {
				err := watcher.Watch(ctx, func() error { return config.ReloadConfig(path) })
				if err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Warn("config watcher stopped", "error", err)
				}
			}()
		}
	}

	if _, err := a.channel.Acquire(); err != nil {
		a.logger.Warn("usage worker failed to start; it will be retried on the next request", "error", err)
	}

	if err := a.server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// close releases every component in reverse order of creation. Fields that
// were never set are skipped.
func (a *app) close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.channel != nil {
		a.channel.Terminate()
		// Let the worker flush its last summaries to the recorder.
		if h := a.channel.Current(); h != nil {
			select {
			case <-h.Done():
			case <-time.After(a.cfg.Worker.ShutdownDelay + time.Second):
			}
		}
	}
	if a.recorder != nil {
		a.recorder.Stop()
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("failed to close history storage", "error", err)
		}
	}
	if a.selector != nil {
		a.selector.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close account store", "error", err)
		}
	}
	if a.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("failed to flush traces", "error", err)
		}
	}
}
