package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/warden/pkg/cache"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/evidence"
	"mercator-hq/warden/pkg/evidence/recorder"
	"mercator-hq/warden/pkg/evidence/retention"
	evstorage "mercator-hq/warden/pkg/evidence/storage"
	"mercator-hq/warden/pkg/limits/budget"
	"mercator-hq/warden/pkg/limits/ratelimit"
	"mercator-hq/warden/pkg/limits/storage"
	"mercator-hq/warden/pkg/pipeline"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/policy/manager"
	"mercator-hq/warden/pkg/processing/costs"
	"mercator-hq/warden/pkg/processing/pii"
	"mercator-hq/warden/pkg/processing/tokens"
	"mercator-hq/warden/pkg/providers"
	"mercator-hq/warden/pkg/routing"
	"mercator-hq/warden/pkg/telemetry/health"
	"mercator-hq/warden/pkg/telemetry/metrics"
	"mercator-hq/warden/pkg/telemetry/tracing"
)

// alertQueueSize bounds undelivered budget alerts.
const alertQueueSize = 64

// components are the long-lived parts of a running gateway. They are
// closed in reverse order of construction.
type components struct {
	policies  *manager.Manager
	store     storage.Store
	alerts    *budget.QueueNotifier
	cache     *cache.Service
	router    *routing.Router
	forwarder *providers.HTTPForwarder
	evidence  evidence.Storage
	recorder  *recorder.Recorder
	pruner    *retention.Pruner
	collector *metrics.Collector
	tracer    *tracing.Tracer
	health    *health.Checker
	pipeline  *pipeline.Pipeline

	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

func (c *components) onClose(name string, fn func(context.Context) error) {
	c.closers = append(c.closers, closer{name: name, fn: fn})
}

// close runs every closer, newest first, and joins their errors.
func (c *components) close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		cl := c.closers[i]
		if err := cl.fn(ctx); err != nil {
			slog.Error("Failed to close component", "component", cl.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", cl.name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// build constructs every component from cfg. On error whatever was
// already built is closed.
func build(ctx context.Context, cfg *config.Config, info BuildInfo) (*components, error) {
	c := &components{}
	built := false
	defer func() {
		if !built {
			_ = c.close(context.Background())
		}
	}()

	var err error

	if cfg.Telemetry.Metrics.IsEnabled() {
		c.collector = metrics.NewCollector(cfg.Telemetry.Metrics, nil)
	} else {
		// Metrics still feed the guards and stats; they are just not served.
		c.collector = metrics.NewCollector(cfg.Telemetry.Metrics, prometheus.NewRegistry())
	}

	c.tracer, err = tracing.New(ctx, cfg.Telemetry.Tracing, info.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	c.onClose("tracing", c.tracer.Shutdown)

	c.policies, err = manager.New(manager.Config{
		Path:             cfg.Policy.Path,
		DefaultPolicy:    cfg.Policy.DefaultPolicy,
		DebounceInterval: cfg.Policy.DebounceInterval,
	}, c.collector)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	c.store, err = storage.New(storage.Config{
		Backend:          cfg.Storage.Backend,
		OperationTimeout: cfg.Storage.OperationTimeout,
		Redis: storage.RedisStoreConfig{
			Address:     cfg.Storage.Redis.Address,
			Password:    cfg.Storage.Redis.Password,
			DB:          cfg.Storage.Redis.DB,
			DialTimeout: cfg.Storage.Redis.DialTimeout,
			KeyPrefix:   cfg.Storage.Redis.KeyPrefix,
		},
		SQLite: storage.SQLiteStoreConfig{
			DBPath:      cfg.Storage.SQLite.Path,
			BusyTimeout: cfg.Storage.SQLite.BusyTimeout,
		},
	})
	if err != nil {
		return nil, err
	}
	c.onClose("storage", func(context.Context) error { return c.store.Close() })

	estimator := tokens.NewSimpleEstimator(tokens.Config{
		CharsPerToken:     cfg.Limits.Tokens.CharsPerToken,
		MessageOverhead:   cfg.Limits.Tokens.MessageOverhead,
		DefaultCompletion: cfg.Limits.Tokens.DefaultCompletion,
	})
	prices := make(map[string]costs.ModelPrice, len(cfg.Limits.Prices))
	for model, p := range cfg.Limits.Prices {
		prices[model] = costs.ModelPrice{InputPer1K: p.InputPer1K, OutputPer1K: p.OutputPer1K}
	}

	c.alerts = budget.NewQueueNotifier(alertQueueSize, budget.LogAlert(slog.Default()))
	c.onClose("alerts", func(context.Context) error { c.alerts.Close(); return nil })

	mode := policy.FailureMode(cfg.Limits.FailureMode)
	guard := budget.NewGuard(c.store, budget.Config{
		Estimator:       estimator,
		Calculator:      costs.NewCalculator(prices),
		FailureMode:     mode,
		AlertThresholds: cfg.Limits.AlertThresholds,
		Notifier:        c.alerts,
		Observer:        c.collector.Guards(),
	})
	limiter := ratelimit.NewLimiter(c.store, ratelimit.Config{
		FailureMode: mode,
		Observer:    c.collector.Guards(),
	})

	if cfg.Cache.IsEnabled() {
		var backend cache.Backend
		if cfg.Cache.Backend == "local" {
			local := cache.NewLocalBackend(int64(cfg.Cache.MaxSizeMB)<<20, cfg.Cache.CleanupInterval)
			c.collector.ObserveCacheBytes(local.Used)
			backend = local
		} else {
			backend = cache.NewStoreBackend(c.store)
		}
		c.cache, err = cache.NewService(backend, cache.Config{Digest: cache.Digest(cfg.Cache.Digest)})
		if err != nil {
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
	}

	c.router = routing.NewRouter(estimator)

	c.forwarder, err = providers.NewHTTPForwarder(providers.Config{
		Name:       cfg.Upstream.Name,
		BaseURL:    cfg.Upstream.BaseURL,
		APIKey:     cfg.Upstream.APIKey,
		Headers:    cfg.Upstream.Headers,
		MaxRetries: cfg.Upstream.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream forwarder: %w", err)
	}
	c.onClose("upstream", func(context.Context) error { return c.forwarder.Close() })
	c.collector.ObserveUpstream(c.forwarder.Name(), func() bool { return c.forwarder.Health().Healthy })

	sinks := pipeline.MultiSink{c.collector}
	if cfg.Evidence.IsEnabled() {
		if err := c.buildEvidence(ctx, cfg.Evidence); err != nil {
			return nil, err
		}
		sinks = append(sinks, c.recorder)
	}

	c.pipeline, err = pipeline.New(pipeline.Config{
		Policies:        c.policies,
		Limiter:         limiter,
		Budget:          guard,
		Forwarder:       c.forwarder,
		Detector:        pii.NewDetector(),
		Router:          c.router,
		Cache:           c.cache,
		Sink:            sinks,
		Tracer:          c.tracer.Tracer(),
		UpstreamTimeout: cfg.Upstream.Timeout,
		SettleTimeout:   cfg.Limits.SettleTimeout,
	})
	if err != nil {
		return nil, err
	}

	c.health = health.New(cfg.Telemetry.Health.CheckTimeout)
	c.health.SetVersion(info.Version)
	c.health.RegisterCheck("policies", health.PolicyCheck(
		func() int { return c.policies.Snapshot().Len() },
		c.policies.LastLoadError,
	))
	c.health.RegisterOptionalCheck("storage", health.PingCheck(c.store))
	c.health.RegisterOptionalCheck("upstream", c.forwarder.CheckHealth)
	if pinger, ok := c.evidence.(health.Pinger); ok {
		c.health.RegisterOptionalCheck("evidence", health.PingCheck(pinger))
	}

	built = true
	return c, nil
}

// buildEvidence opens the audit store and starts the recorder and the
// retention schedule.
func (c *components) buildEvidence(ctx context.Context, cfg config.EvidenceConfig) error {
	switch cfg.Backend {
	case "memory":
		c.evidence = evstorage.NewMemoryStorage()
	default:
		scfg := evstorage.DefaultSQLiteConfig()
		scfg.Path = cfg.Path
		s, err := evstorage.NewSQLiteStorage(scfg)
		if err != nil {
			return fmt.Errorf("failed to open evidence store: %w", err)
		}
		c.evidence = s
	}
	c.onClose("evidence storage", func(context.Context) error { return c.evidence.Close() })

	c.recorder = recorder.New(c.evidence, recorder.Config{
		BufferSize:   cfg.BufferSize,
		WriteTimeout: cfg.WriteTimeout,
	})
	c.onClose("evidence recorder", func(context.Context) error { return c.recorder.Close() })
	c.collector.ObserveEvidence(c.recorder)

	c.pruner = retention.NewPruner(c.evidence, retention.Config{
		RetentionDays: cfg.RetentionDays,
		PruneSchedule: cfg.PruneSchedule,
		MaxRecords:    cfg.MaxRecords,
		ArchivePath:   cfg.ArchivePath,
	})
	if err := c.pruner.Start(ctx); err != nil {
		return fmt.Errorf("failed to schedule evidence pruning: %w", err)
	}
	c.onClose("evidence pruner", func(context.Context) error { c.pruner.Stop(); return nil })
	return nil
}
