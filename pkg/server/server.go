package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"mercator-hq/relay/pkg/accounts"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/history"
	"mercator-hq/relay/pkg/proxy/middleware"
	"mercator-hq/relay/pkg/telemetry/health"
	"mercator-hq/relay/pkg/telemetry/metrics"
	"mercator-hq/relay/pkg/telemetry/tracing"
)

// WorkerTerminator stops the telemetry worker during shutdown.
type WorkerTerminator interface {
	Terminate()
}

// Options wires the server's collaborators. Proxy is required; every other
// field is optional and disables its routes when nil.
type Options struct {
	Config *config.ProxyConfig

	// Proxy serves every /v1/ request.
	Proxy http.Handler

	Metrics *metrics.Collector

	// MetricsPath defaults to "/metrics".
	MetricsPath string

	Health   *health.Checker
	Accounts accounts.Store
	History  history.Storage
	Worker   WorkerTerminator

	// Tracing joins inbound W3C trace context.
	Tracing bool
}

// Server is the relay HTTP server.
type Server struct {
	config       *config.ProxyConfig
	opts         Options
	httpServer   *http.Server
	handler      http.Handler
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	addr         net.Addr
	logger       *slog.Logger
}

// NewServer creates a server. It does not listen until Start.
func NewServer(opts Options) (*Server, error) {
	if opts.Proxy == nil {
		return nil, errors.New("server: proxy handler is required")
	}
	if opts.Config == nil {
		cfg := config.NewDefaultConfig().Proxy
		opts.Config = &cfg
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = config.DefaultMetricsPath
	}

	s := &Server{
		config:       opts.Config,
		opts:         opts,
		shutdownChan: make(chan struct{}),
		logger:       slog.Default().With("component", "server"),
	}
	s.handler = s.setupRoutes()
	return s, nil
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the bound listen address once the server is running.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Start listens and serves until ctx is cancelled, a termination signal
// arrives, RequestShutdown is called, or the listener fails. It shuts the
// server down gracefully before returning.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		MaxHeaderBytes:    s.config.MaxHeaderBytes,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.addr = ln.Addr()
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting relay server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-s.shutdownChan:
		s.logger.Info("shutdown requested")
	case err := <-errChan:
		s.terminateWorker()
		return err
	}
	return s.Shutdown(context.Background())
}

// RequestShutdown asks a running Start to return.
func (s *Server) RequestShutdown() {
	select {
	case <-s.shutdownChan:
	default:
		close(s.shutdownChan)
	}
}

// Shutdown stops accepting connections, waits up to the shutdown timeout for
// active requests, then terminates the telemetry worker.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		running := s.isRunning
		s.mu.RUnlock()
		if !running {
			s.terminateWorker()
			return
		}

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}
		s.terminateWorker()

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("relay server stopped")
	})

	return shutdownErr
}

func (s *Server) terminateWorker() {
	if s.opts.Worker != nil {
		s.opts.Worker.Terminate()
	}
}

// setupRoutes registers routes and wraps them in the middleware chain:
// recovery, request ID, tracing, logging.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/v1/", s.opts.Proxy)

	if s.opts.Health != nil {
		mux.Handle("/health", s.opts.Health.LivenessHandler())
		mux.Handle("/ready", s.opts.Health.ReadinessHandler())
	}
	if s.opts.Metrics != nil {
		mux.Handle("GET "+s.opts.MetricsPath, s.opts.Metrics.Handler())
	}
	if s.opts.Accounts != nil {
		api := &accountsAPI{store: s.opts.Accounts, logger: s.logger}
		mux.HandleFunc("GET /api/accounts", api.list)
		mux.HandleFunc("POST /api/accounts/{name}/pause", api.setPaused(true))
		mux.HandleFunc("POST /api/accounts/{name}/resume", api.setPaused(false))
	}
	if s.opts.History != nil {
		api := &requestsAPI{storage: s.opts.History, logger: s.logger}
		mux.HandleFunc("GET /api/requests", api.list)
	}

	var handler http.Handler = mux
	handler = middleware.LoggingMiddleware(handler)
	if s.opts.Tracing {
		handler = tracing.HTTPMiddleware(handler)
	}
	handler = middleware.RequestIDMiddleware(handler)
	handler = middleware.RecoveryMiddleware(handler)

	return handler
}
