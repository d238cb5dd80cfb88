package datasources

import (
	"sort"
	"sync"
	"time"
)

// SourceHealth is the observed state of one upstream source.
type SourceHealth struct {
	Name        string        `json:"name"`
	Status      string        `json:"status"`
	Circuit     string        `json:"circuit_state"`
	Successes   int64         `json:"successes"`
	Failures    int64         `json:"failures"`
	LastSuccess time.Time     `json:"last_success,omitempty"`
	LastFailure time.Time     `json:"last_failure,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	LatencyP50  time.Duration `json:"latency_p50"`
	LatencyP95  time.Duration `json:"latency_p95"`
}

// HealthSnapshot aggregates every source.
type HealthSnapshot struct {
	Timestamp     time.Time               `json:"timestamp"`
	OverallHealth string                  `json:"overall_health"`
	Sources       map[string]SourceHealth `json:"sources"`
}

// HealthManager tracks success, failure and latency per source.
type HealthManager struct {
	circuits *CircuitManager
	sources  map[string]*sourceStats
	mu       sync.RWMutex
}

type sourceStats struct {
	successes   int64
	failures    int64
	lastSuccess time.Time
	lastFailure time.Time
	lastError   string
	samples     []time.Duration
}

const maxLatencySamples = 500

// NewHealthManager creates a health manager; circuits may be nil.
func NewHealthManager(circuits *CircuitManager) *HealthManager {
	return &HealthManager{
		circuits: circuits,
		sources:  make(map[string]*sourceStats),
	}
}

// RecordSuccess records a successful call.
func (hm *HealthManager) RecordSuccess(source string, latency time.Duration) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	s := hm.stats(source)
	s.successes++
	s.lastSuccess = time.Now()
	s.addSample(latency)
}

// RecordFailure records a failed call.
func (hm *HealthManager) RecordFailure(source string, latency time.Duration, err error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	s := hm.stats(source)
	s.failures++
	s.lastFailure = time.Now()
	if err != nil {
		s.lastError = err.Error()
	}
	s.addSample(latency)
}

// Snapshot returns the current health of every source seen so far.
func (hm *HealthManager) Snapshot() HealthSnapshot {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	snap := HealthSnapshot{
		Timestamp: time.Now(),
		Sources:   make(map[string]SourceHealth, len(hm.sources)),
	}

	unhealthy, degraded := 0, 0
	for name, s := range hm.sources {
		h := SourceHealth{
			Name:        name,
			Circuit:     "closed",
			Successes:   s.successes,
			Failures:    s.failures,
			LastSuccess: s.lastSuccess,
			LastFailure: s.lastFailure,
			LastError:   s.lastError,
		}
		if hm.circuits != nil {
			h.Circuit = hm.circuits.State(name)
		}
		h.LatencyP50, h.LatencyP95 = s.percentiles()
		h.Status = sourceStatus(h)

		switch h.Status {
		case "unhealthy":
			unhealthy++
		case "degraded":
			degraded++
		}
		snap.Sources[name] = h
	}

	switch {
	case unhealthy > 0 && unhealthy == len(hm.sources):
		snap.OverallHealth = "unhealthy"
	case unhealthy > 0 || degraded > 0:
		snap.OverallHealth = "degraded"
	default:
		snap.OverallHealth = "healthy"
	}
	return snap
}

func sourceStatus(h SourceHealth) string {
	if h.Circuit == "open" {
		return "unhealthy"
	}
	if h.Circuit == "half-open" || h.LastFailure.After(h.LastSuccess) {
		return "degraded"
	}
	return "healthy"
}

func (hm *HealthManager) stats(source string) *sourceStats {
	s, ok := hm.sources[source]
	if !ok {
		s = &sourceStats{samples: make([]time.Duration, 0, 64)}
		hm.sources[source] = s
	}
	return s
}

func (s *sourceStats) addSample(latency time.Duration) {
	if len(s.samples) >= maxLatencySamples {
		s.samples = s.samples[1:]
	}
	s.samples = append(s.samples, latency)
}

func (s *sourceStats) percentiles() (p50, p95 time.Duration) {
	n := len(s.samples)
	if n == 0 {
		return 0, 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, s.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[n*50/100], sorted[n*95/100]
}
