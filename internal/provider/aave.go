package provider

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/yieldrun/internal/config"
	"github.com/sawpanic/yieldrun/internal/domain/yield"
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ReserveReader reads lending reserves on-chain through JSON-RPC eth_call
// against an Aave V3 pool on each configured network.
type ReserveReader struct {
	up        *Upstream
	requestID atomic.Int64
	logger    zerolog.Logger
}

// NewReserveReader creates the on-chain adapter.
func NewReserveReader(up *Upstream) *ReserveReader {
	return &ReserveReader{
		up:     up,
		logger: log.With().Str("component", "reserves").Logger(),
	}
}

// ReadNetwork reads every configured asset on network. A network without a
// pool address or RPC URLs yields a *yield.ConfigurationError. Assets that
// fail individually are skipped; an error is returned only when all fail.
func (r *ReserveReader) ReadNetwork(ctx context.Context, network config.NetworkConfig) ([]yield.Reserve, error) {
	if network.PoolAddress == "" {
		return nil, &yield.ConfigurationError{Scope: "network " + network.Name, Reason: "missing pool address"}
	}
	if len(network.RPCURLs) == 0 {
		return nil, &yield.ConfigurationError{Scope: "network " + network.Name, Reason: "no rpc urls"}
	}
	if len(network.Assets) == 0 {
		return nil, &yield.ConfigurationError{Scope: "network " + network.Name, Reason: "no assets"}
	}

	var (
		out     []yield.Reserve
		lastErr error
	)
	for _, asset := range network.Assets {
		reserve, err := r.readReserve(ctx, network, asset)
		if err != nil {
			lastErr = err
			r.logger.Warn().Err(err).Str("network", network.Name).Str("asset", asset.Symbol).Msg("reserve read failed")
			continue
		}
		out = append(out, reserve)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

func (r *ReserveReader) readReserve(ctx context.Context, network config.NetworkConfig, asset config.AssetConfig) (yield.Reserve, error) {
	calldata, err := encodeGetReserveData(asset.Address)
	if err != nil {
		return yield.Reserve{}, &yield.ConfigurationError{Scope: "asset " + asset.Symbol, Reason: err.Error()}
	}

	data, err := r.ethCall(ctx, network.RPCURLs, network.PoolAddress, calldata)
	if err != nil {
		return yield.Reserve{}, fmt.Errorf("getReserveData %s: %w", asset.Symbol, err)
	}
	if len(data) < reserveDataMinWords*32 {
		return yield.Reserve{}, &FetchError{
			Source:  SourceOnChain,
			Code:    ErrCodeInvalidData,
			Message: fmt.Sprintf("getReserveData %s: %d bytes, need %d", asset.Symbol, len(data), reserveDataMinWords*32),
		}
	}

	configuration := decodeUint256(word(data, wordConfiguration))
	decimals := bitsField(configuration, 48, 8)
	reserveFactor := float64(bitsField(configuration, 64, 16)) / 100

	liquidityRate := decodeUint256(word(data, wordLiquidityRate))
	borrowRate := decodeUint256(word(data, wordVariableBorrowRate))
	aToken := decodeAddress(word(data, wordATokenAddress))
	debtToken := decodeAddress(word(data, wordVariableDebtToken))

	supplyRaw, err := r.totalSupply(ctx, network.RPCURLs, aToken)
	if err != nil {
		return yield.Reserve{}, fmt.Errorf("aToken totalSupply %s: %w", asset.Symbol, err)
	}
	debtRaw, err := r.totalSupply(ctx, network.RPCURLs, debtToken)
	if err != nil {
		return yield.Reserve{}, fmt.Errorf("debt totalSupply %s: %w", asset.Symbol, err)
	}

	supply := scaleAmount(supplyRaw, decimals)
	debt := scaleAmount(debtRaw, decimals)
	utilization := 0.0
	if supply > 0 {
		utilization = debt / supply
	}

	toAPY := ratePerSecondToAPY
	if network.RateUnit == "annual" {
		toAPY = annualRayToAPY
	}

	protocol := network.Protocol
	if protocol == "" {
		protocol = "aave-v3"
	}

	return yield.Reserve{
		Network:       network.Name,
		Protocol:      protocol,
		Symbol:        asset.Symbol,
		Asset:         asset.Address,
		SupplyAPY:     toAPY(liquidityRate),
		BorrowAPY:     toAPY(borrowRate),
		TotalSupply:   supply,
		TotalBorrow:   debt,
		Utilization:   utilization,
		ReserveFactor: reserveFactor,
		PriceUSD:      asset.PriceUSD,
		Stablecoin:    asset.Stablecoin,
	}, nil
}

func (r *ReserveReader) totalSupply(ctx context.Context, urls []string, token string) (*big.Int, error) {
	data, err := r.ethCall(ctx, urls, token, selectorTotalSupply)
	if err != nil {
		return nil, err
	}
	if len(data) < 32 {
		return nil, &FetchError{Source: SourceOnChain, Code: ErrCodeInvalidData, Message: "short totalSupply result"}
	}
	return decodeUint256(data[:32]), nil
}

// ethCall tries each RPC URL in order and returns the first result.
func (r *ReserveReader) ethCall(ctx context.Context, urls []string, to string, calldata []byte) ([]byte, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "eth_call",
		Params: []interface{}{
			map[string]string{
				"to":   to,
				"data": "0x" + hex.EncodeToString(calldata),
			},
			"latest",
		},
		ID: r.requestID.Add(1),
	}

	var lastErr error
	for _, url := range urls {
		var resp rpcResponse
		if err := r.up.postJSON(ctx, SourceOnChain, url, req, &resp); err != nil {
			lastErr = err
			continue
		}
		if resp.Error != nil {
			lastErr = &FetchError{
				Source:  SourceOnChain,
				Code:    ErrCodeRPCError,
				Message: fmt.Sprintf("rpc error %d: %s", resp.Error.Code, resp.Error.Message),
			}
			continue
		}
		var hexResult string
		if err := json.Unmarshal(resp.Result, &hexResult); err != nil {
			lastErr = &FetchError{Source: SourceOnChain, Code: ErrCodeInvalidData, Message: "non-string result", Cause: err}
			continue
		}
		out, err := hex.DecodeString(strings.TrimPrefix(hexResult, "0x"))
		if err != nil {
			lastErr = &FetchError{Source: SourceOnChain, Code: ErrCodeInvalidData, Message: "invalid hex result", Cause: err}
			continue
		}
		return out, nil
	}
	return nil, fmt.Errorf("all rpc endpoints failed: %w", lastErr)
}
