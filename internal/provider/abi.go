package provider

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strings"
)

// Function selectors (first 4 bytes of keccak256 of the signature).
var (
	selectorGetReserveData = mustDecodeHex("35ea6a75") // getReserveData(address)
	selectorTotalSupply    = mustDecodeHex("18160ddd") // totalSupply()
)

// Word offsets in the ABI-encoded Aave V3 ReserveData tuple.
const (
	wordConfiguration      = 0
	wordLiquidityRate      = 2
	wordVariableBorrowRate = 4
	wordATokenAddress      = 8
	wordVariableDebtToken  = 10
	reserveDataMinWords    = 11

	rayDecimals    = 27
	secondsPerYear = 365 * 24 * 3600
)

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(fmt.Sprintf("invalid hex: %s", s))
	}
	return b
}

// encodeAddress pads a 20-byte address to a 32-byte word.
func encodeAddress(addr string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X"))
	if err != nil || len(b) != 20 {
		return nil, fmt.Errorf("invalid address %q", addr)
	}
	padded := make([]byte, 32)
	copy(padded[12:], b)
	return padded, nil
}

func encodeGetReserveData(asset string) ([]byte, error) {
	word, err := encodeAddress(asset)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, 4+32)
	data = append(data, selectorGetReserveData...)
	return append(data, word...), nil
}

func word(data []byte, i int) []byte {
	return data[i*32 : (i+1)*32]
}

func decodeUint256(data []byte) *big.Int {
	return new(big.Int).SetBytes(data)
}

func decodeAddress(data []byte) string {
	return "0x" + hex.EncodeToString(data[12:32])
}

// bitsField extracts width bits starting at offset from a packed bitmap.
func bitsField(bitmap *big.Int, offset, width uint) uint64 {
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), width), big.NewInt(1))
	return new(big.Int).And(new(big.Int).Rsh(bitmap, offset), mask).Uint64()
}

// annualRayToAPY converts an annualized RAY rate to a percentage: rate / 1e27 * 100.
func annualRayToAPY(ray *big.Int) float64 {
	if ray == nil || ray.Sign() == 0 {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(ray), new(big.Float).SetFloat64(math.Pow10(rayDecimals))).Float64()
	return round2(f * 100)
}

// ratePerSecondToAPY converts a per-second RAY rate with the linear
// approximation rate / 1e27 * secondsPerYear * 100.
func ratePerSecondToAPY(ray *big.Int) float64 {
	if ray == nil || ray.Sign() == 0 {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(ray), new(big.Float).SetFloat64(math.Pow10(rayDecimals))).Float64()
	return round2(f * secondsPerYear * 100)
}

// scaleAmount converts base units to a float with the given decimals.
func scaleAmount(n *big.Int, decimals uint64) float64 {
	if n == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(n), new(big.Float).SetFloat64(math.Pow10(int(decimals)))).Float64()
	return f
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
