package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/yieldrun/internal/infrastructure/httpclient"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func fixtureServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(loadFixture(t, name))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testUpstream() *Upstream {
	return NewUpstream(httpclient.NewClientPool(httpclient.ClientConfig{
		UserAgent:      "yieldrun/test",
		RequestTimeout: 5 * time.Second,
	}), nil)
}

func TestDefiLlama_Protocols(t *testing.T) {
	srv := fixtureServer(t, map[string]string{"/protocols": "protocols.json"})
	d := NewDefiLlama(testUpstream(), srv.URL, srv.URL)

	protocols, err := d.Protocols(context.Background())
	require.NoError(t, err)
	require.Len(t, protocols, 4)

	aave := protocols[0]
	assert.Equal(t, "Aave V3", aave.Name)
	require.NotNil(t, aave.TVL)
	assert.Equal(t, 20e9, *aave.TVL)
	assert.Equal(t, 2, aave.AuditCount())
	assert.Len(t, aave.Chains, 5)

	// numeric audits decode too
	assert.Equal(t, 2, protocols[1].AuditCount())
	assert.Equal(t, 0, protocols[2].AuditCount())
	assert.Nil(t, protocols[3].TVL)
	assert.Nil(t, protocols[3].Change7d)
}

func TestDefiLlama_PoolsAndChart(t *testing.T) {
	srv := fixtureServer(t, map[string]string{
		"/pools":           "pools.json",
		"/chart/pool-1234": "chart.json",
	})
	d := NewDefiLlama(testUpstream(), srv.URL, srv.URL)

	pools, err := d.Pools(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 3)
	assert.Equal(t, "aave-v3", pools[0].Project)
	require.NotNil(t, pools[0].APY)
	assert.Equal(t, 10.0, *pools[0].APY)
	assert.Nil(t, pools[2].APY)

	chart, err := d.Chart(context.Background(), "pool-1234")
	require.NoError(t, err)
	require.Len(t, chart, 2)
	assert.Equal(t, 2025, chart[0].Timestamp.Year())
	assert.Nil(t, chart[0].APYReward)
	require.NotNil(t, chart[1].APYReward)
	assert.Equal(t, 0.3, *chart[1].APYReward)
}

func TestDefiLlama_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pools":
			w.Write([]byte(`{"status":"error","data":[]}`))
		case "/protocols":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()
	d := NewDefiLlama(testUpstream(), srv.URL, srv.URL)

	_, err := d.Pools(context.Background())
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ErrCodeInvalidData, fe.Code)

	_, err = d.Protocols(context.Background())
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ErrCodeAPIError, fe.Code)
	assert.Equal(t, http.StatusServiceUnavailable, fe.Status)
	assert.Equal(t, SourceDefiLlama, fe.Source)

	_, err = d.Chart(context.Background(), "abc")
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ErrCodeInvalidData, fe.Code)

	_, err = d.Chart(context.Background(), " ")
	assert.Error(t, err)
}

func TestCoinGecko_Markets(t *testing.T) {
	var gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("ids")
		gotKey = r.Header.Get("x-cg-demo-api-key")
		w.Write(loadFixture(t, "markets.json"))
	}))
	defer srv.Close()

	cg := NewCoinGecko(testUpstream(), srv.URL, "demo-key")
	markets, err := cg.Markets(context.Background(), []string{"usd-coin", "ethereum"})
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "ethereum,usd-coin", gotQuery)
	assert.Equal(t, "demo-key", gotKey)
	assert.Equal(t, 3150.42, markets[0].CurrentPrice)
	assert.Nil(t, markets[1].PriceChangePercentage24h)

	none, err := cg.Markets(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, none)
}

func TestCoinGecko_RateLimitedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewCoinGecko(testUpstream(), srv.URL, "").Markets(context.Background(), []string{"ethereum"})
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ErrCodeRateLimit, fe.Code)
	assert.Equal(t, ErrCodeRateLimit, fe.ErrorCode())
}
