package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// PositionEngine defines the engine methods the position handler requires.
type PositionEngine interface {
	Positions() []domain.Position
	ClosePosition(ctx context.Context, marketID string) (float64, error)
	CloseAllPositions(ctx context.Context) (float64, error)
	RedeemPosition(ctx context.Context, marketID string, winning domain.Outcome) (domain.Redemption, error)
}

// PositionHandler serves position HTTP endpoints. onRelease is invoked after
// a position leaves the book so the arbitrage tracker frees the market for
// re-entry.
type PositionHandler struct {
	engine    PositionEngine
	onRelease func(marketID string)
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler. onRelease may be nil.
func NewPositionHandler(engine PositionEngine, onRelease func(marketID string), logger *slog.Logger) *PositionHandler {
	return &PositionHandler{engine: engine, onRelease: onRelease, logger: logger}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns all open positions with lazy mark-to-market values.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.engine.Positions()
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// ClosePosition sells out both legs of one position at current bids.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	realized, err := h.engine.ClosePosition(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNoPosition) {
			writeError(w, http.StatusNotFound, "no position for market")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: close position failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to close position")
		return
	}

	h.release(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":    id,
		"realized_pnl": realized,
	})
}

// CloseAllPositions closes every open position. Failures are isolated per
// position; the first error is reported alongside whatever realized cleanly.
// POST /api/positions/close-all
func (h *PositionHandler) CloseAllPositions(w http.ResponseWriter, r *http.Request) {
	open := h.engine.Positions()

	realized, err := h.engine.CloseAllPositions(r.Context())
	for _, pos := range open {
		h.release(pos.MarketID)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: close all positions partial failure",
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusOK, map[string]any{
			"realized_pnl": realized,
			"error":        err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"realized_pnl": realized})
}

// redeemRequest is the body for RedeemPosition.
type redeemRequest struct {
	WinningOutcome string `json:"winning_outcome"`
}

// RedeemPosition settles one position at resolution prices: $1 per winning
// token, $0 per losing token.
// POST /api/positions/{id}/redeem
func (h *PositionHandler) RedeemPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var winning domain.Outcome
	switch strings.ToUpper(strings.TrimSpace(req.WinningOutcome)) {
	case string(domain.OutcomeYes):
		winning = domain.OutcomeYes
	case string(domain.OutcomeNo):
		winning = domain.OutcomeNo
	default:
		writeError(w, http.StatusBadRequest, "winning_outcome must be YES or NO")
		return
	}

	red, err := h.engine.RedeemPosition(r.Context(), id, winning)
	if err != nil {
		if errors.Is(err, domain.ErrNoPosition) {
			writeError(w, http.StatusNotFound, "no position for market")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: redeem position failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to redeem position")
		return
	}

	h.release(id)
	writeJSON(w, http.StatusOK, red)
}

func (h *PositionHandler) release(marketID string) {
	if h.onRelease != nil {
		h.onRelease(marketID)
	}
}
