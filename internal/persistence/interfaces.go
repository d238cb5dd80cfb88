package persistence

import (
	"context"
	"time"

	"github.com/sawpanic/yieldrun/internal/domain/yield"
)

// TimeRange represents a time window for history queries
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// LastDays returns the window ending at now and starting days earlier.
func LastDays(now time.Time, days int) TimeRange {
	return TimeRange{From: now.AddDate(0, 0, -days), To: now}
}

// HistoryRecord is one archived pool sample as stored in pool_history.
type HistoryRecord struct {
	PoolID    string    `json:"pool_id" db:"pool_id"`
	Timestamp time.Time `json:"ts" db:"ts"`
	TVLUsd    float64   `json:"tvl_usd" db:"tvl_usd"`
	APY       float64   `json:"apy" db:"apy"`
	APYBase   float64   `json:"apy_base" db:"apy_base"`
	APYReward *float64  `json:"apy_reward,omitempty" db:"apy_reward"`
	IL7d      *float64  `json:"il_7d,omitempty" db:"il_7d"`
	Source    string    `json:"source" db:"source"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Point converts the record to the domain sample.
func (r HistoryRecord) Point() yield.HistoricalDataPoint {
	return yield.HistoricalDataPoint{
		Timestamp: r.Timestamp,
		TVLUsd:    r.TVLUsd,
		APY:       r.APY,
		APYBase:   r.APYBase,
		APYReward: r.APYReward,
		IL7d:      r.IL7d,
	}
}

// HistoryRepo archives pool chart samples so history survives upstream outages.
type HistoryRepo interface {
	// InsertBatch stores samples for poolID; existing (pool_id, ts) rows are kept.
	// It returns the number of rows written.
	InsertBatch(ctx context.Context, poolID, source string, points []yield.HistoricalDataPoint) (int64, error)

	// ListRange returns samples for poolID within tr, oldest first.
	ListRange(ctx context.Context, poolID string, tr TimeRange) ([]yield.HistoricalDataPoint, error)

	// Latest returns the newest sample for poolID, or nil when none exists.
	Latest(ctx context.Context, poolID string) (*HistoryRecord, error)

	// Count returns the number of archived samples for poolID.
	Count(ctx context.Context, poolID string) (int64, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	History HistoryRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to database
	Ping(ctx context.Context) error
}
