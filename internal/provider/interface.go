package provider

import (
	"context"

	"github.com/sawpanic/yieldrun/internal/config"
	"github.com/sawpanic/yieldrun/internal/domain/yield"
)

// Directory serves the protocol directory, the pool list and per-pool charts.
type Directory interface {
	// Protocols returns every protocol the directory tracks.
	Protocols(ctx context.Context) ([]LlamaProtocol, error)

	// Pools returns every yield pool with its current APY and TVL.
	Pools(ctx context.Context) ([]LlamaPool, error)

	// Chart returns the daily APY/TVL history of one pool, oldest first.
	Chart(ctx context.Context, poolID string) ([]ChartPoint, error)
}

// PriceFeed serves USD spot prices keyed by price id.
type PriceFeed interface {
	Markets(ctx context.Context, ids []string) ([]CoinMarket, error)
}

// ReserveSource reads lending reserves for one network on-chain.
type ReserveSource interface {
	ReadNetwork(ctx context.Context, network config.NetworkConfig) ([]yield.Reserve, error)
}

var (
	_ Directory     = (*DefiLlama)(nil)
	_ PriceFeed     = (*CoinGecko)(nil)
	_ ReserveSource = (*ReserveReader)(nil)
)
