package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sawpanic/yieldrun/internal/domain/yield"
	"github.com/sawpanic/yieldrun/internal/provider"
)

// Service is the query surface served over HTTP.
type Service interface {
	GetTopYieldOpportunities(ctx context.Context, limit int, minTVL float64) ([]yield.Pool, error)
	GetStablecoinYields(ctx context.Context) ([]yield.Pool, error)
	GetTokenYieldOpportunities(ctx context.Context, symbol string) ([]yield.Pool, error)
	GetPoolsByProtocol(ctx context.Context, name string) ([]yield.Pool, error)
	CalculateProtocolRisk(ctx context.Context, name string) yield.RiskMetrics
	GetPoolHistoricalData(ctx context.Context, poolID string, days int) ([]yield.HistoricalDataPoint, error)
	AnalyzePoolTrends(ctx context.Context, poolID string, days int) (yield.TrendAnalysis, error)
	AnalyzePortfolio(ctx context.Context, positions []yield.Position) yield.PortfolioAnalysis
	CalculateImpermanentLoss(priceChangePct float64) float64
	RecommendAllocation(ctx context.Context, symbol string, amountUSD float64, tier yield.RiskTier) (yield.AllocationPlan, error)
	GetMarketOverview(ctx context.Context) yield.MarketOverview
}

const maxBodyBytes = 1 << 20

// Handlers manages all HTTP endpoint handlers
type Handlers struct {
	svc Service
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc Service) *Handlers {
	return &Handlers{svc: svc}
}

// TopYields handles GET /v1/yields/top?limit=&min_tvl=
func (h *Handlers) TopYields(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 10)
	if err != nil || limit < 0 || limit > 500 {
		h.writeError(w, r, http.StatusBadRequest, "invalid_parameter", "limit must be an integer between 0 and 500")
		return
	}
	minTVL, err := floatParam(r, "min_tvl", 0)
	if err != nil || minTVL < 0 {
		h.writeError(w, r, http.StatusBadRequest, "invalid_parameter", "min_tvl must be a non-negative number")
		return
	}

	pools, err := h.svc.GetTopYieldOpportunities(r.Context(), limit, minTVL)
	h.writePools(w, r, pools, err)
}

// Stablecoins handles GET /v1/yields/stablecoins
func (h *Handlers) Stablecoins(w http.ResponseWriter, r *http.Request) {
	pools, err := h.svc.GetStablecoinYields(r.Context())
	h.writePools(w, r, pools, err)
}

// TokenYields handles GET /v1/yields/token/{symbol}
func (h *Handlers) TokenYields(w http.ResponseWriter, r *http.Request) {
	pools, err := h.svc.GetTokenYieldOpportunities(r.Context(), mux.Vars(r)["symbol"])
	h.writePools(w, r, pools, err)
}

// ProtocolPools handles GET /v1/protocols/{name}/pools
func (h *Handlers) ProtocolPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.svc.GetPoolsByProtocol(r.Context(), mux.Vars(r)["name"])
	h.writePools(w, r, pools, err)
}

// ProtocolRisk handles GET /v1/protocols/{name}/risk
func (h *Handlers) ProtocolRisk(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	h.writeJSON(w, http.StatusOK, RiskResponse{
		Protocol: name,
		Risk:     h.svc.CalculateProtocolRisk(r.Context(), name),
	})
}

// PoolHistory handles GET /v1/pools/{id}/history?days=
func (h *Handlers) PoolHistory(w http.ResponseWriter, r *http.Request) {
	days, ok := h.days(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	points, err := h.svc.GetPoolHistoricalData(r.Context(), id, days)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, HistoryResponse{PoolID: id, Days: days, Count: len(points), Points: points})
}

// PoolTrend handles GET /v1/pools/{id}/trend?days=
func (h *Handlers) PoolTrend(w http.ResponseWriter, r *http.Request) {
	days, ok := h.days(w, r)
	if !ok {
		return
	}
	analysis, err := h.svc.AnalyzePoolTrends(r.Context(), mux.Vars(r)["id"], days)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, analysis)
}

// AnalyzePortfolio handles POST /v1/portfolio/analyze
func (h *Handlers) AnalyzePortfolio(w http.ResponseWriter, r *http.Request) {
	var req PortfolioRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_body", fmt.Sprintf("request body must be {\"positions\": [...]}: %v", err))
		return
	}
	for i, p := range req.Positions {
		if p.Amount < 0 {
			h.writeError(w, r, http.StatusBadRequest, "invalid_body", fmt.Sprintf("position %d has a negative amount", i))
			return
		}
	}
	h.writeJSON(w, http.StatusOK, h.svc.AnalyzePortfolio(r.Context(), req.Positions))
}

// Allocation handles GET /v1/allocation?symbol=&amount=&risk=
func (h *Handlers) Allocation(w http.ResponseWriter, r *http.Request) {
	amount, err := floatParam(r, "amount", 0)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_parameter", "amount must be a number")
		return
	}
	tier, ok := yield.ParseRiskTier(r.URL.Query().Get("risk"))
	if !ok {
		h.writeError(w, r, http.StatusBadRequest, "invalid_parameter", "risk must be conservative, moderate or aggressive")
		return
	}

	plan, err := h.svc.RecommendAllocation(r.Context(), r.URL.Query().Get("symbol"), amount, tier)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, plan)
}

// ImpermanentLoss handles GET /v1/impermanent-loss?change=
func (h *Handlers) ImpermanentLoss(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("change"))
	change, err := strconv.ParseFloat(raw, 64)
	if raw == "" || err != nil || math.IsNaN(change) || math.IsInf(change, 0) {
		h.writeError(w, r, http.StatusBadRequest, "invalid_parameter", "change must be a price change in percent")
		return
	}
	h.writeJSON(w, http.StatusOK, ImpermanentLossResponse{
		PriceChangePct: change,
		LossPct:        h.svc.CalculateImpermanentLoss(change),
	})
}

// Overview handles GET /v1/overview
func (h *Handlers) Overview(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.GetMarketOverview(r.Context()))
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}

func (h *Handlers) days(w http.ResponseWriter, r *http.Request) (int, bool) {
	days, err := intParam(r, "days", 30)
	if err != nil || days <= 0 || days > 3650 {
		h.writeError(w, r, http.StatusBadRequest, "invalid_parameter", "days must be an integer between 1 and 3650")
		return 0, false
	}
	return days, true
}

func (h *Handlers) writePools(w http.ResponseWriter, r *http.Request, pools []yield.Pool, err error) {
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if pools == nil {
		pools = []yield.Pool{}
	}
	h.writeJSON(w, http.StatusOK, PoolsResponse{Timestamp: time.Now().UTC(), Count: len(pools), Pools: pools})
}

// writeServiceError maps engine errors onto status codes.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound *yield.NotFoundError
		fetchErr *provider.FetchError
		cfgErr   *yield.ConfigurationError
	)
	switch {
	case errors.Is(err, yield.ErrInvalidArgument):
		h.writeError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, yield.ErrInsufficientData):
		h.writeError(w, r, http.StatusNotFound, "insufficient_data", err.Error())
	case errors.As(err, &notFound):
		h.writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &cfgErr):
		h.writeError(w, r, http.StatusInternalServerError, "configuration_error", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, r, http.StatusGatewayTimeout, "timeout", "upstream did not answer in time")
	case errors.As(err, &fetchErr):
		h.writeError(w, r, http.StatusBadGateway, strings.ToLower(fetchErr.Code), err.Error())
	default:
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// writeJSON writes JSON response with proper error handling
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

// writeError writes standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func floatParam(r *http.Request, name string, def float64) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	return strconv.ParseFloat(raw, 64)
}
