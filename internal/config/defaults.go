package config

// Default returns the built-in configuration. Every policy constant used by the
// analytics lives here so it can be overridden from YAML.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			RequestTimeoutSecs:  30,
			ShutdownTimeoutSecs: 10,
		},
		Cache: CacheConfig{
			Backend:       "memory",
			RetentionSecs: 86400,
			TTL: CacheTTLs{
				Protocols: 600,
				Pools:     300,
				Chart:     1800,
				Prices:    60,
				Reserves:  120,
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "yieldrun:",
				PoolSize:  10,
			},
		},
		Providers: ProvidersConfig{
			UserAgent:     "yieldrun/1.0",
			TimeoutSecs:   15,
			MaxConcurrent: 8,
			LlamaURL:      "https://api.llama.fi",
			YieldsURL:     "https://yields.llama.fi",
			CoinGeckoURL:  "https://api.coingecko.com/api/v3",
			Limits: map[string]LimitConfig{
				"defillama": {RPS: 5, Burst: 10},
				"coingecko": {RPS: 0.5, Burst: 5},
				"onchain":   {RPS: 10, Burst: 20},
			},
			Breaker: BreakerConfig{
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
				OpenTimeoutSecs:     60,
				IntervalSecs:        120,
			},
		},
		Networks: []NetworkConfig{
			{
				Name:        "ethereum",
				Protocol:    "aave-v3",
				RPCURLs:     []string{"https://eth.llamarpc.com", "https://rpc.ankr.com/eth"},
				PoolAddress: "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2",
				RateUnit:    "annual",
				Assets: []AssetConfig{
					{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2E9Eb0cE3606eB48", PriceID: "usd-coin", Stablecoin: true, PriceUSD: 1},
					{Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", PriceID: "tether", Stablecoin: true, PriceUSD: 1},
					{Symbol: "DAI", Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", PriceID: "dai", Stablecoin: true, PriceUSD: 1},
					{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", PriceID: "weth"},
				},
			},
			{
				Name:        "arbitrum",
				Protocol:    "aave-v3",
				RPCURLs:     []string{"https://arb1.arbitrum.io/rpc", "https://rpc.ankr.com/arbitrum"},
				PoolAddress: "0x794a61358D6845594F94dc1DB02A252b5b4814aD",
				RateUnit:    "annual",
				Assets: []AssetConfig{
					{Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", PriceID: "usd-coin", Stablecoin: true, PriceUSD: 1},
				},
			},
		},
		Persistence: PersistenceConfig{
			Enabled:             false,
			MaxOpenConns:        10,
			MaxIdleConns:        5,
			ConnMaxLifetimeSecs: 1800,
			QueryTimeoutSecs:    5,
		},
		Filters: FilterPolicy{
			MinTVL:             1_000_000,
			MaxAPY:             200,
			MaxAPYDirectory:    500,
			ExcludedCategories: []string{"CEX", "Bridge", "Chain", "RWA", "Cross Chain"},
			AllowedCategories: []string{
				"Lending", "Dexes", "Yield", "Yield Aggregator", "Liquid Staking",
				"CDP", "Derivatives", "Staking Pool", "Restaking", "Liquid Restaking",
			},
			CategoryKeywords: []string{"Yield", "Lending"},
			RejectKeywords:   []string{"test", "deprecated"},
			StableTokens: []string{
				"USDC", "USDT", "DAI", "FRAX", "LUSD", "TUSD", "USDP", "GUSD", "SUSD",
				"CRVUSD", "GHO", "PYUSD", "USDE", "SUSDE", "USDS", "SDAI", "USDC.E", "USDBC", "USD0",
			},
		},
		Risk: RiskPolicy{
			BaseScore:     5,
			MinScore:      1,
			MaxScore:      10,
			FallbackScore: 6,
			Weights: RiskWeights{
				Protocol:      0.25,
				SmartContract: 0.25,
				Liquidity:     0.20,
				Market:        0.20,
				Composability: 0.10,
			},
			TVLVeryHigh:         10e9,
			TVLHigh:             1e9,
			TVLLow:              100e6,
			MultiChainThreshold: 3,
			SevereOutflowPct:    -20,
			OutflowPct:          -10,
			HighRiskCategories:  []string{"Derivatives", "Options", "Synthetics", "Leveraged Farming"},
			LowRiskCategories:   []string{"Lending", "Liquid Staking"},
		},
		Trend: TrendPolicy{
			Window:             7,
			UpRatio:            1.05,
			DownRatio:          0.95,
			HighVolatility:     50,
			ModerateVolatility: 25,
			SpikeMultiple:      2,
			LowTVL:             1_000_000,
			DefaultDays:        30,
		},
		Allocation: AllocationPolicy{
			Tiers: Tiers{
				Conservative: TierWeights{Stable: 70, BlueChip: 25, RiskAsset: 5},
				Moderate:     TierWeights{Stable: 50, BlueChip: 30, RiskAsset: 20},
				Aggressive:   TierWeights{Stable: 25, BlueChip: 25, RiskAsset: 50},
			},
			Splits: Splits{
				Stable:    []float64{0.6, 0.4},
				BlueChip:  []float64{0.7, 0.3},
				RiskAsset: []float64{0.5, 0.3, 0.2},
			},
			Confidence: Confidence{
				Conservative:    85,
				Moderate:        80,
				Aggressive:      70,
				Max:             95,
				ManyLegs:        5,
				ManyLegsBonus:   5,
				FewLegs:         2,
				FewLegsPenalty:  10,
				FallbackPenalty: 20,
			},
			BlueChipTokens: []string{"ETH", "WETH", "STETH", "WSTETH", "RETH", "CBETH", "WEETH", "BTC", "WBTC", "CBBTC", "TBTC"},
			DefaultRisk:    6,
		},
		Portfolio: PortfolioPolicy{
			HighRisk:           7,
			LowRisk:            4,
			ConcentrationPct:   50,
			YieldGapRatio:      0.7,
			PositionHighRisk:   8,
			MaxRecommendations: 8,
		},
	}
}
