package provider

import (
	"context"
	"net/url"
	"sort"
	"strings"
)

// CoinMarket is one entry of GET /coins/markets.
type CoinMarket struct {
	ID                       string   `json:"id"`
	Symbol                   string   `json:"symbol"`
	Name                     string   `json:"name"`
	CurrentPrice             float64  `json:"current_price"`
	MarketCap                float64  `json:"market_cap"`
	TotalVolume              float64  `json:"total_volume"`
	PriceChangePercentage24h *float64 `json:"price_change_percentage_24h"`
}

// CoinGecko adapts the token price feed.
type CoinGecko struct {
	up      *Upstream
	baseURL string
	apiKey  string
}

// NewCoinGecko creates the price feed adapter. apiKey is optional.
func NewCoinGecko(up *Upstream, baseURL, apiKey string) *CoinGecko {
	return &CoinGecko{
		up:      up,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// Markets fetches USD quotes for the given coin ids.
func (c *CoinGecko) Markets(ctx context.Context, ids []string) ([]CoinMarket, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("ids", strings.Join(sorted, ","))
	q.Set("per_page", "250")
	q.Set("page", "1")

	var headers map[string]string
	if c.apiKey != "" {
		headers = map[string]string{"x-cg-demo-api-key": c.apiKey}
	}

	var out []CoinMarket
	if err := c.up.getJSON(ctx, SourceCoinGecko, c.baseURL+"/coins/markets?"+q.Encode(), headers, &out); err != nil {
		return nil, err
	}
	return out, nil
}
