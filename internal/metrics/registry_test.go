package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheResultUpdatesHitRatio(t *testing.T) {
	r := New(nil)

	r.CacheResult("defillama", "miss")
	r.CacheResult("defillama", "hit")
	r.CacheResult("defillama", "hit")
	r.CacheResult("defillama", "stale")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.CacheRequests.WithLabelValues("defillama", "hit")))
	assert.InDelta(t, 0.75, r.HitRatio("defillama"), 1e-9)
	assert.InDelta(t, 0.75, testutil.ToFloat64(r.CacheHitRatio.WithLabelValues("defillama")), 1e-9)
	assert.Zero(t, r.HitRatio("coingecko"))
	assert.Equal(t, []string{"defillama"}, r.Sources())
}

func TestFetchObserved(t *testing.T) {
	r := New(nil)

	r.FetchObserved("coingecko", 120*time.Millisecond, "")
	r.FetchObserved("coingecko", 2*time.Second, "RATE_LIMIT")
	r.FetchObserved("coingecko", time.Second, "RATE_LIMIT")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.FetchErrors.WithLabelValues("coingecko", "RATE_LIMIT")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.FetchDuration))
}

func TestBreakerState(t *testing.T) {
	r := New(nil)

	r.BreakerState("onchain", "open")
	assert.Equal(t, 2.0, testutil.ToFloat64(r.BreakerStates.WithLabelValues("onchain")))
	r.BreakerState("onchain", "half-open")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.BreakerStates.WithLabelValues("onchain")))
	r.BreakerState("onchain", "closed")
	assert.Zero(t, testutil.ToFloat64(r.BreakerStates.WithLabelValues("onchain")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New(nil)
	r.AllocationBuilt("moderate", true)
	r.ObserveHTTP("/v1/overview", http.MethodGet, 200, 30*time.Millisecond)
	r.CacheResult("defillama", "hit")

	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	for _, name := range []string{
		`yieldrun_allocations_total{fallback="true",tier="moderate"} 1`,
		"yieldrun_http_request_duration_seconds_bucket",
		`yieldrun_cache_requests_total{result="hit",source="defillama"} 1`,
	} {
		assert.True(t, strings.Contains(body, name), "missing %s", name)
	}
}
