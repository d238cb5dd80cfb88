package allocation

import "github.com/sawpanic/yieldrun/internal/domain/yield"

// StaticCandidates is the default allocation table, ordered best first within
// each category. Figures are indicative long-run yields.
func StaticCandidates() []yield.Pool {
	return []yield.Pool{
		{PoolID: "default-aave-v3-usdc", Project: "aave-v3", Chain: "Ethereum", Symbol: "USDC", TVLUsd: 2_500_000_000, APY: 4.2, Stablecoin: true, Source: "static"},
		{PoolID: "default-compound-v3-usdc", Project: "compound-v3", Chain: "Ethereum", Symbol: "USDC", TVLUsd: 600_000_000, APY: 4.8, Stablecoin: true, Source: "static"},
		{PoolID: "default-lido-steth", Project: "lido", Chain: "Ethereum", Symbol: "STETH", TVLUsd: 20_000_000_000, APY: 3.1, Source: "static"},
		{PoolID: "default-aave-v3-weth", Project: "aave-v3", Chain: "Ethereum", Symbol: "WETH", TVLUsd: 1_500_000_000, APY: 2.0, Source: "static"},
		{PoolID: "default-pendle-pt", Project: "pendle", Chain: "Ethereum", Symbol: "PENDLE", TVLUsd: 300_000_000, APY: 9.5, Source: "static"},
		{PoolID: "default-curve-crv", Project: "curve-dex", Chain: "Ethereum", Symbol: "CRV", TVLUsd: 150_000_000, APY: 7.5, Source: "static"},
		{PoolID: "default-convex-cvx", Project: "convex-finance", Chain: "Ethereum", Symbol: "CVX", TVLUsd: 120_000_000, APY: 6.8, Source: "static"},
	}
}
