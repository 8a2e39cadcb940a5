package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// TradeEngine defines the engine methods the trade handler requires.
type TradeEngine interface {
	ExecuteTrade(ctx context.Context, order domain.TradeOrder) domain.Fill
	History(limit int) []domain.TradeRecord
	Balance() float64
	RealizedPnL() float64
	PnL() float64
}

// TradeHandler serves manual trade and account HTTP endpoints.
type TradeHandler struct {
	engine TradeEngine
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given engine and logger.
func NewTradeHandler(engine TradeEngine, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{engine: engine, logger: logger}
}

// placeTradeRequest is the body for PlaceTrade.
type placeTradeRequest struct {
	MarketID string  `json:"market_id"`
	Outcome  string  `json:"outcome"`
	Side     string  `json:"side"`
	Size     float64 `json:"size"`
	Price    float64 `json:"price"` // 0 = market order at the live book
}

// PlaceTrade submits a manual paper order. Rejections are reported in the
// fill payload with HTTP 200; only malformed requests get an error status.
// POST /api/trades
func (h *TradeHandler) PlaceTrade(w http.ResponseWriter, r *http.Request) {
	var req placeTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order := domain.TradeOrder{
		MarketID: req.MarketID,
		Size:     req.Size,
		Price:    req.Price,
		Source:   "manual",
	}

	switch strings.ToUpper(strings.TrimSpace(req.Outcome)) {
	case string(domain.OutcomeYes):
		order.Outcome = domain.OutcomeYes
	case string(domain.OutcomeNo):
		order.Outcome = domain.OutcomeNo
	default:
		writeError(w, http.StatusBadRequest, "outcome must be YES or NO")
		return
	}

	switch strings.ToLower(strings.TrimSpace(req.Side)) {
	case string(domain.OrderSideBuy):
		order.Side = domain.OrderSideBuy
	case string(domain.OrderSideSell):
		order.Side = domain.OrderSideSell
	default:
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}

	if order.MarketID == "" {
		writeError(w, http.StatusBadRequest, "market_id required")
		return
	}

	fill := h.engine.ExecuteTrade(r.Context(), order)
	writeJSON(w, http.StatusOK, fill)
}

// listTradesResponse wraps the trade history response.
type listTradesResponse struct {
	Trades []domain.TradeRecord `json:"trades"`
}

// ListTrades returns the in-memory trade history, newest first.
// GET /api/trades?limit=50
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	trades := h.engine.History(opts.Limit)
	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}

// GetBalance returns the current cash balance.
// GET /api/balance
func (h *TradeHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]float64{"balance": h.engine.Balance()})
}

// GetPnL returns realized and total (realized + unrealized) PnL.
// GET /api/pnl
func (h *TradeHandler) GetPnL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]float64{
		"realized_pnl": h.engine.RealizedPnL(),
		"total_pnl":    h.engine.PnL(),
	})
}
