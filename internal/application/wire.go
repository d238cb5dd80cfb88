package application

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/yieldrun/internal/config"
	"github.com/sawpanic/yieldrun/internal/datasources"
	"github.com/sawpanic/yieldrun/internal/domain/yield"
	"github.com/sawpanic/yieldrun/internal/infrastructure/db"
	"github.com/sawpanic/yieldrun/internal/infrastructure/httpclient"
	"github.com/sawpanic/yieldrun/internal/metrics"
	"github.com/sawpanic/yieldrun/internal/provider"
)

// Runtime is the fully wired process: the engine plus the infrastructure the
// HTTP surface reports on.
type Runtime struct {
	Engine   *Engine
	Metrics  *metrics.Registry
	Health   *datasources.HealthManager
	Database *db.Manager

	closers []func() error
}

// Build wires cache, guards, adapters and persistence from cfg.
func Build(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	logger := log.With().Str("component", "wire").Logger()
	rt := &Runtime{Metrics: metrics.New(prometheus.NewRegistry())}

	store, err := newStore(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		rt.closers = append(rt.closers, closer.Close)
	}
	cache := datasources.NewCache(store, datasources.WithRecorder(rt.Metrics))

	circuits := datasources.NewCircuitManager(circuitConfig(cfg.Providers.Breaker), rt.Metrics)
	limits := datasources.NewLimitManager(providerLimits(cfg.Providers.Limits))
	rt.Health = datasources.NewHealthManager(circuits)
	guard := datasources.NewGuard(limits, circuits, rt.Health, rt.Metrics, config.Seconds(cfg.Providers.TimeoutSecs))

	pool := httpclient.NewClientPool(httpclient.ClientConfig{
		MaxConcurrency: cfg.Providers.MaxConcurrent,
		RequestTimeout: config.Seconds(cfg.Providers.TimeoutSecs),
		UserAgent:      cfg.Providers.UserAgent,
		Headers:        map[string]string{"Accept": "application/json"},
	})
	adapters, err := provider.NewFactory(provider.NewUpstream(pool, guard)).Create(cfg.Providers)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.Database, err = db.NewManager(ctx, cfg.Persistence)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("history archive: %w", err)
	}
	rt.closers = append(rt.closers, rt.Database.Close)

	rt.Engine = NewEngine(cfg, Deps{
		Directory: adapters.Directory,
		Prices:    adapters.Prices,
		Reserves:  adapters.Reserves,
		History:   rt.Database.History(),
		Cache:     cache,
		Metrics:   rt.Metrics,
	})

	logger.Info().
		Str("cache", cfg.Cache.Backend).
		Bool("archive", rt.Database.IsEnabled()).
		Int("networks", len(cfg.Networks)).
		Msg("runtime ready")
	return rt, nil
}

// Close releases the cache backend and database connections.
func (rt *Runtime) Close() error {
	var first error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	rt.closers = nil
	return first
}

func newStore(ctx context.Context, cfg config.CacheConfig) (datasources.Store, error) {
	retention := config.Seconds(cfg.RetentionSecs)
	switch cfg.Backend {
	case "", "memory":
		return datasources.NewMemoryStore(retention), nil
	case "redis":
		store, err := datasources.NewRedisStore(ctx, datasources.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
			Retention: retention,
		})
		if err != nil {
			return nil, fmt.Errorf("cache backend: %w", err)
		}
		return store, nil
	}
	return nil, &yield.ConfigurationError{Scope: "cache.backend", Reason: fmt.Sprintf("unsupported backend %q", cfg.Backend)}
}

func circuitConfig(b config.BreakerConfig) datasources.CircuitConfig {
	c := datasources.DefaultCircuitConfig
	if b.ConsecutiveFailures > 0 {
		c.ConsecutiveFailures = b.ConsecutiveFailures
	}
	if b.FailureRatio > 0 {
		c.FailureRatio = b.FailureRatio
	}
	if b.MinRequests > 0 {
		c.MinRequests = b.MinRequests
	}
	if b.OpenTimeoutSecs > 0 {
		c.Timeout = config.Seconds(b.OpenTimeoutSecs)
	}
	if b.IntervalSecs > 0 {
		c.Interval = config.Seconds(b.IntervalSecs)
	}
	return c
}

func providerLimits(in map[string]config.LimitConfig) map[string]datasources.ProviderLimits {
	out := make(map[string]datasources.ProviderLimits, len(in))
	for source, l := range in {
		out[source] = datasources.ProviderLimits{RequestsPerSec: l.RPS, BurstLimit: l.Burst}
	}
	return out
}
