// Package config loads yieldrun settings from YAML with environment overrides.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/yieldrun/internal/domain/yield"
)

// Config is the complete yieldrun configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	HTTP        HTTPConfig        `yaml:"http"`
	Cache       CacheConfig       `yaml:"cache"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Networks    []NetworkConfig   `yaml:"networks"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Filters     FilterPolicy      `yaml:"filters"`
	Risk        RiskPolicy        `yaml:"risk"`
	Trend       TrendPolicy       `yaml:"trend"`
	Allocation  AllocationPolicy  `yaml:"allocation"`
	Portfolio   PortfolioPolicy   `yaml:"portfolio"`
}

// HTTPConfig configures the read-only API server.
type HTTPConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	RequestTimeoutSecs  int    `yaml:"request_timeout_secs"`
	ShutdownTimeoutSecs int    `yaml:"shutdown_timeout_secs"`
}

// CacheConfig selects the cache backend and per-source freshness windows.
type CacheConfig struct {
	Backend       string      `yaml:"backend"`        // memory or redis
	RetentionSecs int         `yaml:"retention_secs"` // how long stale entries survive
	TTL           CacheTTLs   `yaml:"ttl_secs"`
	Redis         RedisConfig `yaml:"redis"`
}

// CacheTTLs holds freshness windows in seconds per upstream source.
type CacheTTLs struct {
	Protocols int `yaml:"protocols"`
	Pools     int `yaml:"pools"`
	Chart     int `yaml:"chart"`
	Prices    int `yaml:"prices"`
	Reserves  int `yaml:"reserves"`
}

// RedisConfig configures the shared cache backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	PoolSize  int    `yaml:"pool_size"`
}

// ProvidersConfig configures the upstream adapters.
type ProvidersConfig struct {
	UserAgent     string                 `yaml:"user_agent"`
	TimeoutSecs   int                    `yaml:"timeout_secs"`
	MaxConcurrent int                    `yaml:"max_concurrent"`
	LlamaURL      string                 `yaml:"llama_url"`
	YieldsURL     string                 `yaml:"yields_url"`
	CoinGeckoURL  string                 `yaml:"coingecko_url"`
	CoinGeckoKey  string                 `yaml:"coingecko_api_key"`
	Limits        map[string]LimitConfig `yaml:"limits"`
	Breaker       BreakerConfig          `yaml:"breaker"`
}

// LimitConfig is a token bucket for one source.
type LimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// BreakerConfig is shared by every source's circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32  `yaml:"consecutive_failures"`
	FailureRatio        float64 `yaml:"failure_ratio"`
	MinRequests         uint32  `yaml:"min_requests"`
	OpenTimeoutSecs     int     `yaml:"open_timeout_secs"`
	IntervalSecs        int     `yaml:"interval_secs"`
}

// NetworkConfig describes one chain whose lending reserves are read on-chain.
// RateUnit is "per_second" (default) or "annual" and selects how reserve
// rates convert to APY.
type NetworkConfig struct {
	Name        string        `yaml:"name"`
	Protocol    string        `yaml:"protocol"`
	RPCURLs     []string      `yaml:"rpc_urls"`
	PoolAddress string        `yaml:"pool_address"`
	RateUnit    string        `yaml:"rate_unit"`
	Assets      []AssetConfig `yaml:"assets"`
}

// AssetConfig is a reserve asset on a network.
type AssetConfig struct {
	Symbol     string  `yaml:"symbol"`
	Address    string  `yaml:"address"`
	PriceID    string  `yaml:"price_id"`
	Stablecoin bool    `yaml:"stablecoin"`
	PriceUSD   float64 `yaml:"price_usd"` // used when the price feed has no quote
}

// PersistenceConfig configures the postgres history archive.
type PersistenceConfig struct {
	Enabled             bool   `yaml:"enabled"`
	DSN                 string `yaml:"dsn"`
	MaxOpenConns        int    `yaml:"max_open_conns"`
	MaxIdleConns        int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSecs int    `yaml:"conn_max_lifetime_secs"`
	QueryTimeoutSecs    int    `yaml:"query_timeout_secs"`
}

// FilterPolicy drives protocol and pool acceptance.
type FilterPolicy struct {
	MinTVL             float64  `yaml:"min_tvl"`
	MaxAPY             float64  `yaml:"max_apy"`
	MaxAPYDirectory    float64  `yaml:"max_apy_directory"`
	ExcludedCategories []string `yaml:"excluded_categories"`
	AllowedCategories  []string `yaml:"allowed_categories"`
	CategoryKeywords   []string `yaml:"category_keywords"`
	RejectKeywords     []string `yaml:"reject_keywords"`
	StableTokens       []string `yaml:"stable_tokens"`
}

// RiskWeights are the overall-risk blend; they sum to 1.
type RiskWeights struct {
	Protocol      float64 `yaml:"protocol"`
	SmartContract float64 `yaml:"smart_contract"`
	Liquidity     float64 `yaml:"liquidity"`
	Market        float64 `yaml:"market"`
	Composability float64 `yaml:"composability"`
}

// Sum adds the weights.
func (w RiskWeights) Sum() float64 {
	return w.Protocol + w.SmartContract + w.Liquidity + w.Market + w.Composability
}

// RiskPolicy holds the protocol risk model thresholds.
type RiskPolicy struct {
	BaseScore           float64     `yaml:"base_score"`
	MinScore            float64     `yaml:"min_score"`
	MaxScore            float64     `yaml:"max_score"`
	FallbackScore       float64     `yaml:"fallback_score"`
	Weights             RiskWeights `yaml:"weights"`
	TVLVeryHigh         float64     `yaml:"tvl_very_high"`
	TVLHigh             float64     `yaml:"tvl_high"`
	TVLLow              float64     `yaml:"tvl_low"`
	MultiChainThreshold int         `yaml:"multi_chain_threshold"`
	SevereOutflowPct    float64     `yaml:"severe_outflow_pct"`
	OutflowPct          float64     `yaml:"outflow_pct"`
	HighRiskCategories  []string    `yaml:"high_risk_categories"`
	LowRiskCategories   []string    `yaml:"low_risk_categories"`
}

// TrendPolicy holds the historical trend analyzer thresholds.
type TrendPolicy struct {
	Window             int     `yaml:"window"`
	UpRatio            float64 `yaml:"up_ratio"`
	DownRatio          float64 `yaml:"down_ratio"`
	HighVolatility     float64 `yaml:"high_volatility"`
	ModerateVolatility float64 `yaml:"moderate_volatility"`
	SpikeMultiple      float64 `yaml:"spike_multiple"`
	LowTVL             float64 `yaml:"low_tvl"`
	DefaultDays        int     `yaml:"default_days"`
}

// TierWeights are category percentages for one risk tier; they sum to 100.
type TierWeights struct {
	Stable    float64 `yaml:"stable"`
	BlueChip  float64 `yaml:"blue_chip"`
	RiskAsset float64 `yaml:"risk_asset"`
}

// Sum adds the category percentages.
func (t TierWeights) Sum() float64 {
	return t.Stable + t.BlueChip + t.RiskAsset
}

// Tiers holds the weights for every risk tier.
type Tiers struct {
	Conservative TierWeights `yaml:"conservative"`
	Moderate     TierWeights `yaml:"moderate"`
	Aggressive   TierWeights `yaml:"aggressive"`
}

// For returns the weights for tier.
func (t Tiers) For(tier yield.RiskTier) TierWeights {
	switch tier {
	case yield.TierConservative:
		return t.Conservative
	case yield.TierAggressive:
		return t.Aggressive
	default:
		return t.Moderate
	}
}

// Splits are per-category leg patterns; each sums to 1, first leg largest.
type Splits struct {
	Stable    []float64 `yaml:"stable"`
	BlueChip  []float64 `yaml:"blue_chip"`
	RiskAsset []float64 `yaml:"risk_asset"`
}

// For returns the split pattern for category.
func (s Splits) For(c yield.AssetCategory) []float64 {
	switch c {
	case yield.CategoryStable:
		return s.Stable
	case yield.CategoryBlueChip:
		return s.BlueChip
	default:
		return s.RiskAsset
	}
}

// Confidence holds the advisory confidence heuristic.
type Confidence struct {
	Conservative    float64 `yaml:"conservative"`
	Moderate        float64 `yaml:"moderate"`
	Aggressive      float64 `yaml:"aggressive"`
	Max             float64 `yaml:"max"`
	ManyLegs        int     `yaml:"many_legs"`
	ManyLegsBonus   float64 `yaml:"many_legs_bonus"`
	FewLegs         int     `yaml:"few_legs"`
	FewLegsPenalty  float64 `yaml:"few_legs_penalty"`
	FallbackPenalty float64 `yaml:"fallback_penalty"`
}

// Base returns the starting confidence for tier.
func (c Confidence) Base(tier yield.RiskTier) float64 {
	switch tier {
	case yield.TierConservative:
		return c.Conservative
	case yield.TierAggressive:
		return c.Aggressive
	default:
		return c.Moderate
	}
}

// AllocationPolicy drives the allocation strategy engine.
type AllocationPolicy struct {
	Tiers          Tiers      `yaml:"tiers"`
	Splits         Splits     `yaml:"splits"`
	Confidence     Confidence `yaml:"confidence"`
	BlueChipTokens []string   `yaml:"blue_chip_tokens"`
	DefaultRisk    float64    `yaml:"default_risk"`
}

// PortfolioPolicy drives the portfolio analyzer recommendations.
type PortfolioPolicy struct {
	HighRisk           float64 `yaml:"high_risk"`
	LowRisk            float64 `yaml:"low_risk"`
	ConcentrationPct   float64 `yaml:"concentration_pct"`
	YieldGapRatio      float64 `yaml:"yield_gap_ratio"`
	PositionHighRisk   float64 `yaml:"position_high_risk"`
	MaxRecommendations int     `yaml:"max_recommendations"`
}

// Load reads path over the defaults, applies environment overrides and validates.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("YIELDRUN_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("YIELDRUN_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = port
		}
	}
	if v := getenv("YIELDRUN_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := getenv("YIELDRUN_REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}
	if v := getenv("YIELDRUN_REDIS_PASSWORD"); v != "" {
		c.Cache.Redis.Password = v
	}
	if v := getenv("COINGECKO_API_KEY"); v != "" {
		c.Providers.CoinGeckoKey = v
	}
	if v := getenv("PG_DSN"); v != "" {
		c.Persistence.DSN = v
	}
	if v := getenv("PG_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Persistence.Enabled = enabled
		}
	}
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be in 1..65535, got %d", c.HTTP.Port)
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache backend redis requires redis.addr")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	ttls := map[string]int{
		"protocols": c.Cache.TTL.Protocols,
		"pools":     c.Cache.TTL.Pools,
		"chart":     c.Cache.TTL.Chart,
		"prices":    c.Cache.TTL.Prices,
		"reserves":  c.Cache.TTL.Reserves,
	}
	for name, ttl := range ttls {
		if ttl <= 0 {
			return fmt.Errorf("cache ttl for %s must be positive, got %d", name, ttl)
		}
		if c.Cache.RetentionSecs < ttl {
			return fmt.Errorf("cache retention (%ds) must be >= %s ttl (%ds)", c.Cache.RetentionSecs, name, ttl)
		}
	}

	if c.Providers.TimeoutSecs <= 0 {
		return fmt.Errorf("providers timeout_secs must be positive, got %d", c.Providers.TimeoutSecs)
	}
	if c.Providers.UserAgent == "" {
		return fmt.Errorf("providers user_agent cannot be empty")
	}
	for name, l := range c.Providers.Limits {
		if l.RPS <= 0 || l.Burst <= 0 {
			return fmt.Errorf("limit %s: rps and burst must be positive", name)
		}
	}

	for i, n := range c.Networks {
		if n.Name == "" {
			return fmt.Errorf("network %d: name cannot be empty", i)
		}
		switch n.RateUnit {
		case "", "per_second", "annual":
		default:
			return fmt.Errorf("network %s: unknown rate_unit %q", n.Name, n.RateUnit)
		}
	}

	if c.Persistence.Enabled && c.Persistence.DSN == "" {
		return fmt.Errorf("persistence enabled but dsn is empty")
	}

	if c.Filters.MaxAPY <= 0 || c.Filters.MaxAPYDirectory < c.Filters.MaxAPY {
		return fmt.Errorf("filters: max_apy must be positive and <= max_apy_directory")
	}

	if math.Abs(c.Risk.Weights.Sum()-1) > 1e-6 {
		return fmt.Errorf("risk weights must sum to 1, got %.4f", c.Risk.Weights.Sum())
	}
	if c.Risk.MinScore >= c.Risk.MaxScore {
		return fmt.Errorf("risk min_score must be below max_score")
	}

	if c.Trend.Window <= 0 {
		return fmt.Errorf("trend window must be positive, got %d", c.Trend.Window)
	}

	for _, tier := range []yield.RiskTier{yield.TierConservative, yield.TierModerate, yield.TierAggressive} {
		if sum := c.Allocation.Tiers.For(tier).Sum(); math.Abs(sum-100) > 1e-6 {
			return fmt.Errorf("allocation tier %s must sum to 100, got %.2f", tier, sum)
		}
	}
	for _, cat := range []yield.AssetCategory{yield.CategoryStable, yield.CategoryBlueChip, yield.CategoryRiskAsset} {
		if err := validateSplit(c.Allocation.Splits.For(cat)); err != nil {
			return fmt.Errorf("allocation split %s: %w", cat, err)
		}
	}

	return nil
}

func validateSplit(split []float64) error {
	if len(split) == 0 {
		return fmt.Errorf("split cannot be empty")
	}
	sum := 0.0
	for i, s := range split {
		if s <= 0 {
			return fmt.Errorf("leg %d must be positive", i)
		}
		if i > 0 && s > split[i-1] {
			return fmt.Errorf("legs must be non-increasing")
		}
		sum += s
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("legs must sum to 1, got %.4f", sum)
	}
	return nil
}

// Seconds converts a seconds setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Addr is the listen address of the API server.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// Upper normalizes a token list for set lookups.
func Upper(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, s := range list {
		set[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	return set
}
