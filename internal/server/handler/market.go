package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// MarketReader defines the market-store methods the market handler requires.
type MarketReader interface {
	Market(marketID string) (domain.MarketData, bool)
	Markets() []domain.MarketData
}

// MarketHandler serves market snapshot HTTP endpoints.
type MarketHandler struct {
	markets MarketReader
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given store and logger.
func NewMarketHandler(markets MarketReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

// listMarketsResponse wraps the list markets response.
type listMarketsResponse struct {
	Markets []domain.MarketData `json:"markets"`
}

// ListMarkets returns a snapshot of every tracked market.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := h.markets.Markets()
	if markets == nil {
		markets = []domain.MarketData{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets})
}

// GetMarket returns the snapshot for one market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	m, ok := h.markets.Market(id)
	if !ok {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}
