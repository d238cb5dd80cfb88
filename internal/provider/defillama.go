package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FlexString decodes a JSON string, number or null into a string. The
// protocol directory reports audits as either "2" or 2.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(string(b))
	return nil
}

// LlamaProtocol is one entry of GET /protocols.
type LlamaProtocol struct {
	Name     string     `json:"name"`
	Slug     string     `json:"slug"`
	TVL      *float64   `json:"tvl"`
	Category string     `json:"category"`
	Chains   []string   `json:"chains"`
	Change1d *float64   `json:"change_1d"`
	Change7d *float64   `json:"change_7d"`
	Audits   FlexString `json:"audits"`
	URL      string     `json:"url"`
}

// LlamaPool is one entry of GET /pools.
type LlamaPool struct {
	Pool         string   `json:"pool"`
	Chain        string   `json:"chain"`
	Project      string   `json:"project"`
	Symbol       string   `json:"symbol"`
	TVLUsd       float64  `json:"tvlUsd"`
	APY          *float64 `json:"apy"`
	APYBase      *float64 `json:"apyBase"`
	APYReward    *float64 `json:"apyReward"`
	RewardTokens []string `json:"rewardTokens"`
	Stablecoin   bool     `json:"stablecoin"`
	IL7d         *float64 `json:"il7d"`
}

// ChartPoint is one sample of GET /chart/{pool}.
type ChartPoint struct {
	Timestamp time.Time `json:"timestamp"`
	TVLUsd    float64   `json:"tvlUsd"`
	APY       *float64  `json:"apy"`
	APYBase   *float64  `json:"apyBase"`
	APYReward *float64  `json:"apyReward"`
	IL7d      *float64  `json:"il7d"`
}

type llamaEnvelope[T any] struct {
	Status string `json:"status"`
	Data   []T    `json:"data"`
}

// DefiLlama adapts the protocol directory, pool directory and pool chart.
type DefiLlama struct {
	up        *Upstream
	llamaURL  string
	yieldsURL string
}

// NewDefiLlama creates the adapter for the given base URLs.
func NewDefiLlama(up *Upstream, llamaURL, yieldsURL string) *DefiLlama {
	return &DefiLlama{
		up:        up,
		llamaURL:  strings.TrimRight(llamaURL, "/"),
		yieldsURL: strings.TrimRight(yieldsURL, "/"),
	}
}

// Protocols fetches the protocol directory.
func (d *DefiLlama) Protocols(ctx context.Context) ([]LlamaProtocol, error) {
	var out []LlamaProtocol
	if err := d.up.getJSON(ctx, SourceDefiLlama, d.llamaURL+"/protocols", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Pools fetches the pool/yield directory.
func (d *DefiLlama) Pools(ctx context.Context) ([]LlamaPool, error) {
	var env llamaEnvelope[LlamaPool]
	if err := d.up.getJSON(ctx, SourceDefiLlama, d.yieldsURL+"/pools", nil, &env); err != nil {
		return nil, err
	}
	if err := checkStatus(env.Status, "pools"); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// Chart fetches the historical series of a pool.
func (d *DefiLlama) Chart(ctx context.Context, poolID string) ([]ChartPoint, error) {
	if strings.TrimSpace(poolID) == "" {
		return nil, &FetchError{Source: SourceDefiLlama, Code: ErrCodeInvalidData, Message: "empty pool id"}
	}
	var env llamaEnvelope[ChartPoint]
	endpoint := d.yieldsURL + "/chart/" + url.PathEscape(poolID)
	if err := d.up.getJSON(ctx, SourceDefiLlama, endpoint, nil, &env); err != nil {
		return nil, err
	}
	if err := checkStatus(env.Status, "chart "+poolID); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func checkStatus(status, what string) error {
	if status != "" && status != "success" {
		return &FetchError{
			Source:  SourceDefiLlama,
			Code:    ErrCodeInvalidData,
			Message: fmt.Sprintf("%s: upstream status %q", what, status),
		}
	}
	return nil
}

// AuditCount interprets the audits field; non-numeric non-empty values count as one.
func (p LlamaProtocol) AuditCount() int {
	s := strings.TrimSpace(string(p.Audits))
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	switch strings.ToLower(s) {
	case "no", "false", "none":
		return 0
	}
	return 1
}
