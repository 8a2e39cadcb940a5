package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/polymirror/internal/server/handler"
	"github.com/alanyoungcy/polymirror/internal/server/middleware"
	"github.com/alanyoungcy/polymirror/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates the HTTP handlers the server registers. Nil handlers
// skip their routes, so a build without copy trading simply has no
// /api/copytrading endpoints.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Arb       *handler.ArbHandler
	Positions *handler.PositionHandler
	Trades    *handler.TradeHandler
	CopyTrade *handler.CopyTradeHandler
}

// Server is the headless HTTP + WebSocket control surface.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain
// (CORS -> logging -> auth -> mux).
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)

	if handlers.Arb != nil {
		mux.HandleFunc("GET /api/arbitrage/opportunities", handlers.Arb.ListOpportunities)
	}

	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("POST /api/positions/close-all", handlers.Positions.CloseAllPositions)
	mux.HandleFunc("POST /api/positions/{id}/close", handlers.Positions.ClosePosition)
	mux.HandleFunc("POST /api/positions/{id}/redeem", handlers.Positions.RedeemPosition)

	mux.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)
	mux.HandleFunc("POST /api/trades", handlers.Trades.PlaceTrade)
	mux.HandleFunc("GET /api/balance", handlers.Trades.GetBalance)
	mux.HandleFunc("GET /api/pnl", handlers.Trades.GetPnL)

	if handlers.CopyTrade != nil {
		mux.HandleFunc("POST /api/copytrading/start", handlers.CopyTrade.Start)
		mux.HandleFunc("POST /api/copytrading/stop", handlers.CopyTrade.Stop)
		mux.HandleFunc("GET /api/copytrading/config", handlers.CopyTrade.GetConfig)
		mux.HandleFunc("PUT /api/copytrading/config", handlers.CopyTrade.UpdateConfig)
		mux.HandleFunc("GET /api/copytrading/users", handlers.CopyTrade.ListUsers)
		mux.HandleFunc("POST /api/copytrading/users", handlers.CopyTrade.AddUser)
		mux.HandleFunc("DELETE /api/copytrading/users/{address}", handlers.CopyTrade.RemoveUser)
		mux.HandleFunc("GET /api/copytrading/trades", handlers.CopyTrade.ListDetected)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start blocks serving HTTP until the server errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// corsMiddleware sets CORS headers for the allowed origins. An empty list
// allows every origin.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
