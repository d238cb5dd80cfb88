package http

import (
	"time"

	"github.com/sawpanic/yieldrun/internal/datasources"
	"github.com/sawpanic/yieldrun/internal/domain/yield"
	"github.com/sawpanic/yieldrun/internal/persistence"
)

// PoolsResponse wraps every pool listing endpoint.
type PoolsResponse struct {
	Timestamp time.Time    `json:"timestamp"`
	Count     int          `json:"count"`
	Pools     []yield.Pool `json:"pools"`
}

// RiskResponse is returned by the protocol risk endpoint.
type RiskResponse struct {
	Protocol string            `json:"protocol"`
	Risk     yield.RiskMetrics `json:"risk"`
}

// HistoryResponse is returned by the pool history endpoint.
type HistoryResponse struct {
	PoolID string                      `json:"pool_id"`
	Days   int                         `json:"days"`
	Count  int                         `json:"count"`
	Points []yield.HistoricalDataPoint `json:"points"`
}

// PortfolioRequest is the body of POST /v1/portfolio/analyze.
type PortfolioRequest struct {
	Positions []yield.Position `json:"positions"`
}

// ImpermanentLossResponse is returned by the IL calculator.
type ImpermanentLossResponse struct {
	PriceChangePct float64 `json:"price_change_pct"`
	LossPct        float64 `json:"loss_pct"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time                  `json:"timestamp"`
	Uptime    string                     `json:"uptime"`
	Version   string                     `json:"version"`
	System    SystemInfo                 `json:"system"`
	Sources   datasources.HealthSnapshot `json:"sources"`
	Database  persistence.HealthCheck    `json:"database"`
	Cache     map[string]float64         `json:"cache_hit_ratio,omitempty"`
}

// SystemInfo provides system-level information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	MemSys        uint64 `json:"mem_sys_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}
