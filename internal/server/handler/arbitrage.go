package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// ArbService defines the arbitrage-service methods the handler requires.
type ArbService interface {
	Opportunities(feeBuffer *float64) []domain.ArbitrageOpportunity
	Tracked() []string
	Running() bool
}

// ArbHandler serves arbitrage HTTP endpoints.
type ArbHandler struct {
	arb    ArbService
	logger *slog.Logger
}

// NewArbHandler creates an ArbHandler with the given service and logger.
func NewArbHandler(arb ArbService, logger *slog.Logger) *ArbHandler {
	return &ArbHandler{arb: arb, logger: logger}
}

// listOpportunitiesResponse wraps the opportunity scan response.
type listOpportunitiesResponse struct {
	Opportunities []domain.ArbitrageOpportunity `json:"opportunities"`
	Tracked       []string                      `json:"tracked"`
	Running       bool                          `json:"running"`
}

// ListOpportunities returns the currently detectable opportunities ranked by
// profit after fees. An optional fee_buffer query overrides the configured
// buffer for this scan.
// GET /api/arbitrage/opportunities?fee_buffer=0.02
func (h *ArbHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	var feeBuffer *float64
	if v := r.URL.Query().Get("fee_buffer"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			writeError(w, http.StatusBadRequest, "invalid fee_buffer")
			return
		}
		feeBuffer = &f
	}

	opps := h.arb.Opportunities(feeBuffer)
	if opps == nil {
		opps = []domain.ArbitrageOpportunity{}
	}
	tracked := h.arb.Tracked()
	if tracked == nil {
		tracked = []string{}
	}

	writeJSON(w, http.StatusOK, listOpportunitiesResponse{
		Opportunities: opps,
		Tracked:       tracked,
		Running:       h.arb.Running(),
	})
}
