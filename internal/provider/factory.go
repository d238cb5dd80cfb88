package provider

import (
	"fmt"
	"net/url"

	"github.com/sawpanic/yieldrun/internal/config"
	"github.com/sawpanic/yieldrun/internal/domain/yield"
)

// Adapters is the full set of upstreams an engine reads from.
type Adapters struct {
	Directory Directory
	Prices    PriceFeed
	Reserves  ReserveSource
}

// Factory creates adapters that share one Upstream.
type Factory struct {
	up *Upstream
}

// NewFactory creates a factory over up.
func NewFactory(up *Upstream) *Factory {
	return &Factory{up: up}
}

// CreateDirectory creates the DefiLlama directory adapter.
func (f *Factory) CreateDirectory(cfg config.ProvidersConfig) (Directory, error) {
	if err := validateBaseURL("providers.llama_url", cfg.LlamaURL); err != nil {
		return nil, err
	}
	if err := validateBaseURL("providers.yields_url", cfg.YieldsURL); err != nil {
		return nil, err
	}
	return NewDefiLlama(f.up, cfg.LlamaURL, cfg.YieldsURL), nil
}

// CreatePriceFeed creates the CoinGecko price adapter.
func (f *Factory) CreatePriceFeed(cfg config.ProvidersConfig) (PriceFeed, error) {
	if err := validateBaseURL("providers.coingecko_url", cfg.CoinGeckoURL); err != nil {
		return nil, err
	}
	return NewCoinGecko(f.up, cfg.CoinGeckoURL, cfg.CoinGeckoKey), nil
}

// CreateReserveSource creates the on-chain reserve reader. Network addresses
// are checked per call, so a misconfigured network only skips itself.
func (f *Factory) CreateReserveSource() ReserveSource {
	return NewReserveReader(f.up)
}

// Create builds every adapter from cfg.
func (f *Factory) Create(cfg config.ProvidersConfig) (Adapters, error) {
	dir, err := f.CreateDirectory(cfg)
	if err != nil {
		return Adapters{}, fmt.Errorf("failed to create %s provider: %w", SourceDefiLlama, err)
	}
	prices, err := f.CreatePriceFeed(cfg)
	if err != nil {
		return Adapters{}, fmt.Errorf("failed to create %s provider: %w", SourceCoinGecko, err)
	}
	return Adapters{Directory: dir, Prices: prices, Reserves: f.CreateReserveSource()}, nil
}

// AvailableProviders lists the upstream sources the factory can create.
func AvailableProviders() []string {
	return []string{SourceDefiLlama, SourceCoinGecko, SourceOnChain}
}

func validateBaseURL(scope, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return &yield.ConfigurationError{Scope: scope, Reason: fmt.Sprintf("invalid base url %q", raw)}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &yield.ConfigurationError{Scope: scope, Reason: fmt.Sprintf("base url %q must be absolute http(s)", raw)}
	}
	return nil
}
