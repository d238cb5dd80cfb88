package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/yieldrun/internal/config"
	"github.com/sawpanic/yieldrun/internal/persistence"
	"github.com/sawpanic/yieldrun/internal/persistence/postgres"
)

// Manager manages database connections and repository instances
type Manager struct {
	db     *sqlx.DB
	repos  *persistence.Repository
	health *healthChecker
}

// NewManager opens the history archive. A disabled configuration yields a
// manager with no repositories.
func NewManager(ctx context.Context, cfg config.PersistenceConfig) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{health: &healthChecker{enabled: false}}, nil
	}

	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required when enabled")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(config.Seconds(cfg.ConnMaxLifetimeSecs))

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	m, err := NewManagerWithDB(ctx, db, config.Seconds(cfg.QueryTimeoutSecs))
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("component", "db").Int("max_open_conns", cfg.MaxOpenConns).Msg("history archive connected")
	return m, nil
}

// NewManagerWithDB wires repositories over an already open connection and
// ensures the schema exists.
func NewManagerWithDB(ctx context.Context, db *sqlx.DB, queryTimeout time.Duration) (*Manager, error) {
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	schemaCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if err := postgres.EnsureSchema(schemaCtx, db); err != nil {
		return nil, err
	}

	return &Manager{
		db: db,
		repos: &persistence.Repository{
			History: postgres.NewHistoryRepo(db, queryTimeout),
		},
		health: &healthChecker{
			enabled: true,
			db:      db,
			timeout: queryTimeout,
		},
	}, nil
}

// Repository returns the repository collection, or nil if database is disabled
func (m *Manager) Repository() *persistence.Repository {
	return m.repos
}

// History returns the history archive, or nil if database is disabled.
func (m *Manager) History() persistence.HistoryRepo {
	if m.repos == nil {
		return nil
	}
	return m.repos.History
}

// Health returns the health checker interface
func (m *Manager) Health() persistence.RepositoryHealth {
	return m.health
}

// IsEnabled returns whether database persistence is enabled
func (m *Manager) IsEnabled() bool {
	return m.db != nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// healthChecker implements persistence.RepositoryHealth
type healthChecker struct {
	enabled bool
	db      *sqlx.DB
	timeout time.Duration
}

// Health returns current repository health status
func (h *healthChecker) Health(ctx context.Context) persistence.HealthCheck {
	if !h.enabled {
		return persistence.HealthCheck{
			Healthy:        true,
			Errors:         []string{"Database persistence disabled"},
			ConnectionPool: map[string]int{"status": 0},
			LastCheck:      time.Now(),
		}
	}

	start := time.Now()
	var errs []string
	healthy := true
	if err := h.Ping(ctx); err != nil {
		errs = append(errs, fmt.Sprintf("ping failed: %v", err))
		healthy = false
	}

	stats := h.db.Stats()
	return persistence.HealthCheck{
		Healthy: healthy,
		Errors:  errs,
		ConnectionPool: map[string]int{
			"max_open":   stats.MaxOpenConnections,
			"open":       stats.OpenConnections,
			"in_use":     stats.InUse,
			"idle":       stats.Idle,
			"wait_count": int(stats.WaitCount),
		},
		LastCheck:      time.Now(),
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
}

// Ping tests basic connectivity to database
func (h *healthChecker) Ping(ctx context.Context) error {
	if !h.enabled {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.db.PingContext(pingCtx)
}
