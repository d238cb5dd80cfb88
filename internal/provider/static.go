package provider

import "github.com/sawpanic/yieldrun/internal/domain/yield"

// StaticStablecoinPools is the last-resort table served when neither the pool
// directory nor the on-chain reserves are reachable. Figures are indicative.
func StaticStablecoinPools() []yield.Pool {
	return []yield.Pool{
		{PoolID: "static-aave-v3-usdc-ethereum", Chain: "Ethereum", Project: "aave-v3", Symbol: "USDC", TVLUsd: 2_500_000_000, APY: 4.2, APYBase: 4.2, Stablecoin: true, Source: SourceStatic},
		{PoolID: "static-aave-v3-usdt-ethereum", Chain: "Ethereum", Project: "aave-v3", Symbol: "USDT", TVLUsd: 1_800_000_000, APY: 4.6, APYBase: 4.6, Stablecoin: true, Source: SourceStatic},
		{PoolID: "static-compound-v3-usdc-ethereum", Chain: "Ethereum", Project: "compound-v3", Symbol: "USDC", TVLUsd: 600_000_000, APY: 4.8, APYBase: 4.1, APYReward: 0.7, Stablecoin: true, Source: SourceStatic},
		{PoolID: "static-spark-dai-ethereum", Chain: "Ethereum", Project: "spark", Symbol: "DAI", TVLUsd: 900_000_000, APY: 5.0, APYBase: 5.0, Stablecoin: true, Source: SourceStatic},
		{PoolID: "static-aave-v3-usdc-arbitrum", Chain: "Arbitrum", Project: "aave-v3", Symbol: "USDC", TVLUsd: 250_000_000, APY: 5.1, APYBase: 5.1, Stablecoin: true, Source: SourceStatic},
	}
}
