// Package metrics exposes yieldrun's Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus metrics for yieldrun. It implements
// datasources.Recorder.
type Registry struct {
	CacheRequests *prometheus.CounterVec
	CacheHitRatio *prometheus.GaugeVec

	FetchDuration *prometheus.HistogramVec
	FetchErrors   *prometheus.CounterVec
	BreakerStates *prometheus.GaugeVec

	Allocations *prometheus.CounterVec

	HTTPRequests *prometheus.HistogramVec

	gatherer prometheus.Gatherer

	mu      sync.Mutex
	sources map[string]struct{}
}

// New creates the registry and registers every metric with reg. A nil reg
// gets a private prometheus.Registry.
func New(reg *prometheus.Registry) *Registry {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &Registry{
		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yieldrun_cache_requests_total",
				Help: "Cache lookups by source and result (hit, miss, stale, error)",
			},
			[]string{"source", "result"},
		),

		CacheHitRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "yieldrun_cache_hit_ratio",
				Help: "Share of cache lookups served without a fetch (0.0 to 1.0)",
			},
			[]string{"source"},
		),

		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "yieldrun_fetch_duration_seconds",
				Help:    "Upstream fetch latency in seconds",
				Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
			},
			[]string{"source", "result"},
		),

		FetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yieldrun_fetch_errors_total",
				Help: "Upstream fetch failures by source and error code",
			},
			[]string{"source", "code"},
		),

		BreakerStates: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "yieldrun_breaker_state",
				Help: "Circuit breaker state per source (0=closed, 1=half-open, 2=open)",
			},
			[]string{"source"},
		),

		Allocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "yieldrun_allocations_total",
				Help: "Allocation plans built by tier and whether the static table was used",
			},
			[]string{"tier", "fallback"},
		),

		HTTPRequests: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "yieldrun_http_request_duration_seconds",
				Help:    "API request latency by route and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),

		gatherer: reg,
		sources:  make(map[string]struct{}),
	}

	reg.MustRegister(
		r.CacheRequests,
		r.CacheHitRatio,
		r.FetchDuration,
		r.FetchErrors,
		r.BreakerStates,
		r.Allocations,
		r.HTTPRequests,
	)
	return r
}

// CacheResult records one cache lookup outcome.
func (r *Registry) CacheResult(source, result string) {
	r.CacheRequests.WithLabelValues(source, result).Inc()

	r.mu.Lock()
	r.sources[source] = struct{}{}
	r.mu.Unlock()

	r.updateHitRatio(source)
}

// FetchObserved records an upstream call. An empty code means success.
func (r *Registry) FetchObserved(source string, elapsed time.Duration, code string) {
	result := "ok"
	if code != "" {
		result = "error"
		r.FetchErrors.WithLabelValues(source, code).Inc()
	}
	r.FetchDuration.WithLabelValues(source, result).Observe(elapsed.Seconds())
}

// BreakerState records a breaker transition using gobreaker's state names.
func (r *Registry) BreakerState(source string, state string) {
	v := 0.0
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	r.BreakerStates.WithLabelValues(source).Set(v)
	if v > 0 {
		log.Debug().Str("component", "metrics").Str("source", source).Str("state", state).Msg("breaker state recorded")
	}
}

// AllocationBuilt counts an allocation plan.
func (r *Registry) AllocationBuilt(tier string, fallback bool) {
	r.Allocations.WithLabelValues(tier, strconv.FormatBool(fallback)).Inc()
}

// ObserveHTTP records one API request.
func (r *Registry) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	r.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// HitRatio returns the current hit ratio for source. Stale hits count as
// served; errors and misses do not.
func (r *Registry) HitRatio(source string) float64 {
	served := r.counterValue(source, "hit") + r.counterValue(source, "stale")
	total := served + r.counterValue(source, "miss") + r.counterValue(source, "error")
	if total == 0 {
		return 0
	}
	return served / total
}

// Sources lists the cache sources seen so far.
func (r *Registry) Sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sources))
	for s := range r.sources {
		out = append(out, s)
	}
	return out
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Registry) updateHitRatio(source string) {
	r.CacheHitRatio.WithLabelValues(source).Set(r.HitRatio(source))
}

func (r *Registry) counterValue(source, result string) float64 {
	c, err := r.CacheRequests.GetMetricWithLabelValues(source, result)
	if err != nil {
		return 0
	}
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
