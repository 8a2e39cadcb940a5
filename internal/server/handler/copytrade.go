package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polymirror/internal/copytrade"
	"github.com/alanyoungcy/polymirror/internal/domain"
)

// CopyTradeService defines the copy-trading methods the handler requires.
type CopyTradeService interface {
	Start(ctx context.Context) error
	Stop() error
	Running() bool
	Config() copytrade.Config
	UpdateConfig(cfg copytrade.Config)
	Users() []domain.TrackedUser
	AddUser(address, label string) error
	RemoveUser(address string) error
	Detected(limit int) []domain.DetectedTrade
}

// CopyTradeHandler serves copy-trading control HTTP endpoints. baseCtx is the
// application lifetime context the poll loop is bound to, so it outlives the
// triggering request.
type CopyTradeHandler struct {
	svc     CopyTradeService
	baseCtx context.Context
	logger  *slog.Logger
}

// NewCopyTradeHandler creates a CopyTradeHandler with the given service,
// application context, and logger.
func NewCopyTradeHandler(svc CopyTradeService, baseCtx context.Context, logger *slog.Logger) *CopyTradeHandler {
	return &CopyTradeHandler{svc: svc, baseCtx: baseCtx, logger: logger}
}

// Start transitions the copy-trading service to running.
// POST /api/copytrading/start
func (h *CopyTradeHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Start(h.baseCtx); err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "copy trading already running")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: copytrade start failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to start copy trading")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": true})
}

// Stop transitions the copy-trading service to stopped.
// POST /api/copytrading/stop
func (h *CopyTradeHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Stop(); err != nil {
		if errors.Is(err, domain.ErrNotRunning) {
			writeError(w, http.StatusConflict, "copy trading not running")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: copytrade stop failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to stop copy trading")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": false})
}

// copyTradeConfigDTO is the JSON shape of the copy-trading configuration.
// Durations are Go duration strings, e.g. "5s".
type copyTradeConfigDTO struct {
	PollInterval        string  `json:"poll_interval"`
	ActivityLimit       int     `json:"activity_limit"`
	WindowSize          int     `json:"window_size"`
	MinTradeSize        float64 `json:"min_trade_size"`
	MaxTradeSize        float64 `json:"max_trade_size"`
	MinVolumeForScaling float64 `json:"min_volume_for_scaling"`
	MetadataTTL         string  `json:"metadata_ttl"`
}

func configToDTO(cfg copytrade.Config) copyTradeConfigDTO {
	return copyTradeConfigDTO{
		PollInterval:        cfg.PollInterval.String(),
		ActivityLimit:       cfg.ActivityLimit,
		WindowSize:          cfg.WindowSize,
		MinTradeSize:        cfg.MinTradeSize,
		MaxTradeSize:        cfg.MaxTradeSize,
		MinVolumeForScaling: cfg.MinVolumeForScaling,
		MetadataTTL:         cfg.MetadataTTL.String(),
	}
}

// GetConfig returns the current copy-trading configuration.
// GET /api/copytrading/config
func (h *CopyTradeHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, configToDTO(h.svc.Config()))
}

// UpdateConfig replaces the copy-trading configuration. Omitted or invalid
// duration fields keep their current values.
// PUT /api/copytrading/config
func (h *CopyTradeHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var dto copyTradeConfigDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := h.svc.Config()
	if d, err := time.ParseDuration(dto.PollInterval); err == nil && d > 0 {
		cfg.PollInterval = d
	}
	if d, err := time.ParseDuration(dto.MetadataTTL); err == nil && d > 0 {
		cfg.MetadataTTL = d
	}
	if dto.ActivityLimit > 0 {
		cfg.ActivityLimit = dto.ActivityLimit
	}
	if dto.WindowSize > 0 {
		cfg.WindowSize = dto.WindowSize
	}
	if dto.MinTradeSize > 0 {
		cfg.MinTradeSize = dto.MinTradeSize
	}
	if dto.MaxTradeSize > 0 {
		cfg.MaxTradeSize = dto.MaxTradeSize
	}
	if dto.MinVolumeForScaling >= 0 {
		cfg.MinVolumeForScaling = dto.MinVolumeForScaling
	}

	if cfg.MaxTradeSize < cfg.MinTradeSize {
		writeError(w, http.StatusBadRequest, "max_trade_size must be >= min_trade_size")
		return
	}

	h.svc.UpdateConfig(cfg)
	writeJSON(w, http.StatusOK, configToDTO(h.svc.Config()))
}

// listUsersResponse wraps the tracked-users response.
type listUsersResponse struct {
	Users []domain.TrackedUser `json:"users"`
}

// ListUsers returns the tracked source wallets.
// GET /api/copytrading/users
func (h *CopyTradeHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users := h.svc.Users()
	if users == nil {
		users = []domain.TrackedUser{}
	}
	writeJSON(w, http.StatusOK, listUsersResponse{Users: users})
}

// addUserRequest is the body for AddUser.
type addUserRequest struct {
	Address string `json:"address"`
	Label   string `json:"label"`
}

// AddUser starts tracking a source wallet. Adding a known address is a no-op.
// POST /api/copytrading/users
func (h *CopyTradeHandler) AddUser(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.AddUser(req.Address, req.Label); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, listUsersResponse{Users: h.svc.Users()})
}

// RemoveUser stops tracking a source wallet.
// DELETE /api/copytrading/users/{address}
func (h *CopyTradeHandler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	if err := h.svc.RemoveUser(address); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listUsersResponse{Users: h.svc.Users()})
}

// listDetectedResponse wraps the detected-trades response.
type listDetectedResponse struct {
	Trades []domain.DetectedTrade `json:"trades"`
}

// ListDetected returns recently detected copy trades, newest first.
// GET /api/copytrading/trades?limit=50
func (h *CopyTradeHandler) ListDetected(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	trades := h.svc.Detected(opts.Limit)
	if trades == nil {
		trades = []domain.DetectedTrade{}
	}
	writeJSON(w, http.StatusOK, listDetectedResponse{Trades: trades})
}
