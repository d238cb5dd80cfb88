package http

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/sawpanic/yieldrun/internal/datasources"
	"github.com/sawpanic/yieldrun/internal/persistence"
)

// SnapshotSource reports upstream health.
type SnapshotSource interface {
	Snapshot() datasources.HealthSnapshot
}

// HitRatios reads cache hit ratios per source.
type HitRatios interface {
	Sources() []string
	HitRatio(source string) float64
}

// HealthHandler provides system health status endpoint
type HealthHandler struct {
	sources   SnapshotSource
	database  persistence.RepositoryHealth
	cache     HitRatios
	startTime time.Time
	version   string
}

// NewHealthHandler creates a health handler. Any collaborator may be nil.
func NewHealthHandler(sources SnapshotSource, database persistence.RepositoryHealth, cache HitRatios, version string) *HealthHandler {
	return &HealthHandler{
		sources:   sources,
		database:  database,
		cache:     cache,
		startTime: time.Now(),
		version:   version,
	}
}

// ServeHTTP implements the health check endpoint
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.gather(r)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	// Degraded still answers 200 so load balancers keep routing.
	if response.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (h *HealthHandler) gather(r *http.Request) HealthResponse {
	now := time.Now()
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: now.UTC(),
		Uptime:    now.Sub(h.startTime).Round(time.Second).String(),
		Version:   h.version,
		System:    systemInfo(),
	}

	if h.sources != nil {
		resp.Sources = h.sources.Snapshot()
		if resp.Sources.OverallHealth != "" {
			resp.Status = resp.Sources.OverallHealth
		}
	}

	if h.database != nil {
		resp.Database = h.database.Health(r.Context())
		if !resp.Database.Healthy && resp.Status == "healthy" {
			resp.Status = "degraded"
		}
	}

	if h.cache != nil {
		resp.Cache = make(map[string]float64)
		for _, source := range h.cache.Sources() {
			resp.Cache[source] = h.cache.HitRatio(source)
		}
	}
	return resp
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemAlloc:      m.Alloc,
		MemSys:        m.Sys,
		NumGC:         m.NumGC,
	}
}
