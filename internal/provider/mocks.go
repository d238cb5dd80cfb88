package provider

import (
	"context"
	"sync"

	"github.com/sawpanic/yieldrun/internal/config"
	"github.com/sawpanic/yieldrun/internal/domain/yield"
)

// MockDirectory serves canned directory data for tests and offline runs.
type MockDirectory struct {
	mu        sync.Mutex
	protocols []LlamaProtocol
	pools     []LlamaPool
	charts    map[string][]ChartPoint
	err       error
	requests  map[string]int
}

// NewMockDirectory creates a directory mock over protocols and pools.
func NewMockDirectory(protocols []LlamaProtocol, pools []LlamaPool) *MockDirectory {
	return &MockDirectory{
		protocols: protocols,
		pools:     pools,
		charts:    make(map[string][]ChartPoint),
		requests:  make(map[string]int),
	}
}

// Protocols returns the canned protocols.
func (m *MockDirectory) Protocols(ctx context.Context) ([]LlamaProtocol, error) {
	if err := m.begin(ctx, "protocols"); err != nil {
		return nil, err
	}
	return m.protocols, nil
}

// Pools returns the canned pools.
func (m *MockDirectory) Pools(ctx context.Context) ([]LlamaPool, error) {
	if err := m.begin(ctx, "pools"); err != nil {
		return nil, err
	}
	return m.pools, nil
}

// Chart returns the chart set for poolID; unknown pools have an empty chart.
func (m *MockDirectory) Chart(ctx context.Context, poolID string) ([]ChartPoint, error) {
	if err := m.begin(ctx, "chart"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.charts[poolID], nil
}

// SetChart installs the chart returned for poolID.
func (m *MockDirectory) SetChart(poolID string, points []ChartPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charts[poolID] = points
}

// SimulateError makes every call fail with err.
func (m *MockDirectory) SimulateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// ClearError stops simulating failures.
func (m *MockDirectory) ClearError() {
	m.SimulateError(nil)
}

// RequestCount returns how often endpoint ("protocols", "pools" or "chart") was called.
func (m *MockDirectory) RequestCount(endpoint string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[endpoint]
}

func (m *MockDirectory) begin(ctx context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[endpoint]++
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.err
}

// MockPriceFeed serves canned markets and remembers the last requested ids.
type MockPriceFeed struct {
	mu      sync.Mutex
	markets []CoinMarket
	err     error
	lastIDs []string
}

// NewMockPriceFeed creates a price feed mock over markets.
func NewMockPriceFeed(markets ...CoinMarket) *MockPriceFeed {
	return &MockPriceFeed{markets: markets}
}

// Markets returns the canned markets whose id is in ids.
func (m *MockPriceFeed) Markets(ctx context.Context, ids []string) ([]CoinMarket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastIDs = ids
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	var out []CoinMarket
	for _, market := range m.markets {
		for _, id := range ids {
			if market.ID == id {
				out = append(out, market)
			}
		}
	}
	return out, nil
}

// SimulateError makes every call fail with err.
func (m *MockPriceFeed) SimulateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// LastIDs returns the ids of the most recent request.
func (m *MockPriceFeed) LastIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastIDs
}

// MockReserveSource serves canned reserves per network name. Networks without
// a pool address fail like the real reader; unknown networks fail as an RPC
// outage.
type MockReserveSource struct {
	byNetwork map[string][]yield.Reserve
}

// NewMockReserveSource creates a reserve source mock.
func NewMockReserveSource(byNetwork map[string][]yield.Reserve) *MockReserveSource {
	return &MockReserveSource{byNetwork: byNetwork}
}

// ReadNetwork returns the canned reserves of network.
func (m *MockReserveSource) ReadNetwork(ctx context.Context, network config.NetworkConfig) ([]yield.Reserve, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if network.PoolAddress == "" {
		return nil, &yield.ConfigurationError{Scope: "network " + network.Name, Reason: "missing pool address"}
	}
	rs, ok := m.byNetwork[network.Name]
	if !ok {
		return nil, &FetchError{Source: SourceOnChain, Code: ErrCodeRPCError, Message: "rpc unavailable"}
	}
	return rs, nil
}

var (
	_ Directory     = (*MockDirectory)(nil)
	_ PriceFeed     = (*MockPriceFeed)(nil)
	_ ReserveSource = (*MockReserveSource)(nil)
)
