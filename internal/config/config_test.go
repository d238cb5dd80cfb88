package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/yieldrun/internal/domain/yield"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 15, cfg.Providers.TimeoutSecs)
	assert.InDelta(t, 1.0, cfg.Risk.Weights.Sum(), 1e-9)
	assert.Equal(t, TierWeights{Stable: 70, BlueChip: 25, RiskAsset: 5}, cfg.Allocation.Tiers.For(yield.TierConservative))
	assert.Equal(t, TierWeights{Stable: 25, BlueChip: 25, RiskAsset: 50}, cfg.Allocation.Tiers.For(yield.TierAggressive))
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "yieldrun.yaml")
	content := `
log_level: debug
http:
  port: 9090
cache:
  backend: redis
  redis:
    addr: redis:6379
filters:
  min_tvl: 5000000
allocation:
  tiers:
    moderate:
      stable: 40
      blue_chip: 40
      risk_asset: 20
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, 5_000_000.0, cfg.Filters.MinTVL)
	assert.Equal(t, 40.0, cfg.Allocation.Tiers.Moderate.Stable)
	// untouched sections keep defaults
	assert.Equal(t, 300, cfg.Cache.TTL.Pools)
	assert.Equal(t, 70.0, cfg.Allocation.Tiers.Conservative.Stable)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"YIELDRUN_LOG_LEVEL": "warn",
		"YIELDRUN_HTTP_PORT": "7000",
		"PG_DSN":             "postgres://u:p@db/yields",
		"PG_ENABLED":         "true",
		"COINGECKO_API_KEY":  "cg-key",
	}
	cfg := Default()
	cfg.applyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 7000, cfg.HTTP.Port)
	assert.True(t, cfg.Persistence.Enabled)
	assert.Equal(t, "postgres://u:p@db/yields", cfg.Persistence.DSN)
	assert.Equal(t, "cg-key", cfg.Providers.CoinGeckoKey)
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero ttl", func(c *Config) { c.Cache.TTL.Chart = 0 }},
		{"retention below ttl", func(c *Config) { c.Cache.RetentionSecs = 10 }},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"tier sum", func(c *Config) { c.Allocation.Tiers.Moderate.Stable = 10 }},
		{"split sum", func(c *Config) { c.Allocation.Splits.Stable = []float64{0.5, 0.4} }},
		{"split order", func(c *Config) { c.Allocation.Splits.BlueChip = []float64{0.3, 0.7} }},
		{"risk weights", func(c *Config) { c.Risk.Weights.Market = 0.5 }},
		{"persistence without dsn", func(c *Config) { c.Persistence.Enabled = true }},
		{"timeout", func(c *Config) { c.Providers.TimeoutSecs = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
