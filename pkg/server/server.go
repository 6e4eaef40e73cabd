package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/pipeline"
	"mercator-hq/warden/pkg/proxy/handlers"
	"mercator-hq/warden/pkg/proxy/middleware"
	"mercator-hq/warden/pkg/routing"
	wtls "mercator-hq/warden/pkg/security/tls"
	"mercator-hq/warden/pkg/telemetry/health"
	"mercator-hq/warden/pkg/telemetry/tracing"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Server is the governance gateway.
type Server struct {
	config     *config.Config
	info       BuildInfo
	parts      *components
	handler    http.Handler
	httpServer *http.Server

	// lifetime scopes background work such as policy watching and
	// evidence pruning.
	lifetime context.Context
	stop     context.CancelFunc
	watchers sync.WaitGroup

	shutdownChan chan struct{}
	requestOnce  sync.Once
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	addr         string
}

// New builds every component from cfg. Nothing listens until Start.
func New(cfg *config.Config, info BuildInfo) (*Server, error) {
	lifetime, stop := context.WithCancel(context.Background())
	parts, err := build(lifetime, cfg, info)
	if err != nil {
		stop()
		return nil, err
	}

	s := &Server{
		config:       cfg,
		info:         info,
		parts:        parts,
		lifetime:     lifetime,
		stop:         stop,
		shutdownChan: make(chan struct{}),
	}
	s.handler = s.setupRoutes()

	if cfg.Policy.WatchEnabled() && cfg.Policy.Path != "" {
		s.watchers.Add(1)
		go func() {
			defer s.watchers.Done()
			if err := parts.policies.Watch(lifetime); err != nil {
				slog.Error("Policy watcher stopped", "error", err)
			}
		}()
	}
	return s, nil
}

// Start serves until ctx is cancelled, SIGINT or SIGTERM arrives,
// RequestShutdown is called, or the listener fails. It then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.Server.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.ListenAddress, err)
	}
	tlsCfg := s.config.Server.TLS
	if tlsCfg.Enabled {
		tc, _, err := wtls.ServerConfig(s.lifetime, wtls.Config{
			CertFile:       tlsCfg.CertFile,
			KeyFile:        tlsCfg.KeyFile,
			MinVersion:     tlsCfg.MinVersion,
			ReloadInterval: tlsCfg.ReloadInterval,
		})
		if err != nil {
			ln.Close()
			s.mu.Unlock()
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		ln = tls.NewListener(ln, tc)
	}

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.config.Server.ReadTimeout,
		ReadHeaderTimeout: s.config.Server.ReadTimeout,
		WriteTimeout:      s.config.Server.WriteTimeout,
		IdleTimeout:       s.config.Server.IdleTimeout,
	}
	s.addr = ln.Addr().String()
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting governance gateway",
			"address", ln.Addr().String(),
			"tls_enabled", tlsCfg.Enabled,
			"upstream", s.config.Upstream.BaseURL,
			"version", s.info.Version,
		)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		slog.Info("Context cancelled, initiating shutdown")
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case <-s.shutdownChan:
		slog.Info("Shutdown requested")
	case err := <-errChan:
		_ = s.Shutdown(context.Background())
		return err
	}
	return s.Shutdown(context.Background())
}

// RequestShutdown asks a running Start to return.
func (s *Server) RequestShutdown() {
	s.requestOnce.Do(func() { close(s.shutdownChan) })
}

// Shutdown stops accepting requests, waits for in-flight ones up to the
// shutdown timeout, then closes every component. Later calls return nil.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		timeout := s.config.Server.ShutdownTimeout
		slog.Info("Initiating graceful shutdown", "timeout", timeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var errs []error
		s.mu.RLock()
		srv := s.httpServer
		s.mu.RUnlock()
		if srv != nil {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
			}
		}

		s.stop()
		s.watchers.Wait()
		if err := s.parts.close(shutdownCtx); err != nil {
			errs = append(errs, err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		shutdownErr = errors.Join(errs...)
		if shutdownErr != nil {
			slog.Error("Error during shutdown", "error", shutdownErr)
		}
		slog.Info("Governance gateway stopped")
	})

	return shutdownErr
}

// setupRoutes registers every endpoint and wraps the mux in the
// middleware chain.
func (s *Server) setupRoutes() http.Handler {
	cfg := s.config
	p := s.parts
	mux := http.NewServeMux()

	identity := pipeline.IdentityOptions{
		ClientIDHeader:    cfg.Server.ClientIDHeader,
		TrustForwardedFor: cfg.Server.TrustForwardedFor,
	}
	admission := middleware.NewAdmission(cfg.Server.MaxRPS, cfg.Server.Burst)

	var chat http.Handler = handlers.NewChatHandler(p.pipeline, cfg.Server.MaxRequestBytes, identity)
	chat = admission.Middleware(chat)
	mux.Handle("/v1/chat/completions", chat)

	mux.Handle("/health", p.health.LivenessHandler())
	mux.Handle("/ready", p.health.ReadinessHandler())
	mux.Handle("/version", health.VersionHandler(s.info.Version, s.info.Commit, s.info.BuildTime))
	if cfg.Telemetry.Metrics.IsEnabled() {
		mux.Handle(cfg.Telemetry.Metrics.Path, p.collector.Handler())
	}

	stats := handlers.StatsSources{
		Pipeline: p.pipeline.Stats,
		Routing:  func() routing.Snapshot { return p.router.Stats().Snapshot() },
		Upstream: p.forwarder.Health,
		Policies: p.policies,
	}
	if p.cache != nil {
		stats.Cache = p.cache.Stats
	}
	statsHandler := handlers.StatsHandler(stats)
	mux.Handle("/stats", statsHandler)
	mux.Handle("/v1/warden/stats", statsHandler)
	policies := handlers.PoliciesHandler(p.policies)
	mux.Handle(handlers.PoliciesPath, policies)
	mux.Handle(handlers.PoliciesPath+"/", policies)

	var handler http.Handler = mux
	handler = middleware.Logging(handler)
	handler = middleware.Identity(identity)(handler)
	handler = tracing.HTTPMiddleware(p.tracer.Tracer())(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(handler)
	return handler
}

// Handler returns the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the bound listen address once Start is serving.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// IsRunning reports whether Start is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
