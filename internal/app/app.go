// Package app owns the application lifecycle: it wires the configured
// infrastructure, builds the market feed, paper engine, arbitrage and
// copy-trading services, starts the HTTP/WebSocket control surface, and tears
// everything down in reverse order on shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polymirror/internal/arbitrage"
	"github.com/alanyoungcy/polymirror/internal/config"
	"github.com/alanyoungcy/polymirror/internal/copytrade"
	"github.com/alanyoungcy/polymirror/internal/domain"
	"github.com/alanyoungcy/polymirror/internal/engine"
	"github.com/alanyoungcy/polymirror/internal/feed"
	"github.com/alanyoungcy/polymirror/internal/market"
	"github.com/alanyoungcy/polymirror/internal/platform/polymarket"
	"github.com/alanyoungcy/polymirror/internal/ratelimit"
	"github.com/alanyoungcy/polymirror/internal/server"
	"github.com/alanyoungcy/polymirror/internal/server/handler"
	"github.com/alanyoungcy/polymirror/internal/server/ws"
)

// App is the root application object. It owns the configuration, logger, and
// the cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts every configured subsystem, and blocks
// until the context is cancelled or a subsystem fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Int("markets", len(a.cfg.Markets)),
		slog.Bool("arbitrage", a.cfg.Arbitrage.Enabled),
		slog.Bool("copytrade", a.cfg.CopyTrade.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	g, ctx := errgroup.WithContext(ctx)

	// Market store and live feed.
	store := market.NewStore(a.cfg.Engine.StaleAfter.Duration, a.logger)
	subs := make([]feed.Subscription, 0, len(a.cfg.Markets))
	for _, m := range a.cfg.Markets {
		subs = append(subs, feed.Subscription{
			MarketID:    m.MarketID,
			ConditionID: m.ConditionID,
			YesAssetID:  m.YesAssetID,
			NoAssetID:   m.NoAssetID,
		})
	}
	if len(subs) > 0 {
		marketFeed := feed.New(a.cfg.Polymarket.WsHost, subs, store, a.logger)
		g.Go(func() error {
			defer marketFeed.Close()
			return marketFeed.Run(ctx)
		})
	}

	// Paper execution engine.
	eng := engine.New(store, a.cfg.Engine.InitialBalance, engine.Options{
		Trades:    deps.TradeStore,
		Positions: deps.PositionStore,
		Account:   deps.AccountStore,
		Bus:       deps.SignalBus,
		Archiver:  deps.Archiver,
	}, a.logger)
	a.closers = append(a.closers, func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		eng.Close(flushCtx)
	})

	// Arbitrage service.
	var arbSvc *arbitrage.Service
	if a.cfg.Arbitrage.Enabled {
		detector := arbitrage.NewDetector(arbitrage.Config{
			MinProfitThreshold: a.cfg.Arbitrage.MinProfitThreshold,
			FeeBuffer:          a.cfg.Arbitrage.FeeBuffer,
			SafetyMargin:       a.cfg.Arbitrage.SafetyMargin,
			MaxPositionSize:    a.cfg.Arbitrage.MaxPositionSize,
		})
		arbSvc = arbitrage.NewService(detector, store, eng, arbitrage.ServiceConfig{
			DebounceWindow:   a.cfg.Arbitrage.DebounceWindow.Duration,
			FallbackInterval: a.cfg.Arbitrage.FallbackInterval.Duration,
		}, arbitrage.Options{Bus: deps.SignalBus}, a.logger)

		if err := arbSvc.Start(ctx); err != nil {
			return fmt.Errorf("app: start arbitrage service: %w", err)
		}
		a.closers = append(a.closers, func() { _ = arbSvc.Stop() })
	}

	// Copy-trading service.
	var copySvc *copytrade.Service
	if a.cfg.CopyTrade.Enabled {
		limiter := ratelimit.New(a.cfg.RateLimit.Requests, a.cfg.RateLimit.Window.Duration)
		dataClient := polymarket.NewDataClient(a.cfg.Polymarket.DataHost)
		gammaClient := polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost)

		initialUsers := make([]domain.TrackedUser, 0, len(a.cfg.CopyTrade.Users))
		for _, u := range a.cfg.CopyTrade.Users {
			initialUsers = append(initialUsers, domain.TrackedUser{Address: u.Address, Label: u.Label})
		}

		copySvc, err = copytrade.NewService(
			dataClient,
			gammaClient,
			limiter,
			eng,
			copytrade.Config{
				PollInterval:        a.cfg.CopyTrade.PollInterval.Duration,
				ActivityLimit:       a.cfg.CopyTrade.ActivityLimit,
				WindowSize:          a.cfg.CopyTrade.WindowSize,
				MinTradeSize:        a.cfg.CopyTrade.MinTradeSize,
				MaxTradeSize:        a.cfg.CopyTrade.MaxTradeSize,
				MinVolumeForScaling: a.cfg.CopyTrade.MinVolumeForScaling,
				MetadataTTL:         a.cfg.CopyTrade.MetadataTTL.Duration,
			},
			initialUsers,
			copytrade.Options{
				Store: deps.CopyTradeStore,
				Cache: deps.MetadataCache,
				Bus:   deps.SignalBus,
			},
			a.logger,
		)
		if err != nil {
			return fmt.Errorf("app: build copytrade service: %w", err)
		}

		if err := copySvc.Start(ctx); err != nil {
			return fmt.Errorf("app: start copytrade service: %w", err)
		}
		a.closers = append(a.closers, func() { _ = copySvc.Stop() })
	}

	// HTTP + WebSocket control surface.
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, store, eng, arbSvc, copySvc)
	}

	return g.Wait()
}

// startHTTPServer builds the handler set against the running services and
// launches the server plus its shutdown watcher on the group.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	store *market.Store,
	eng *engine.Engine,
	arbSvc *arbitrage.Service,
	copySvc *copytrade.Service,
) {
	// Closing or redeeming a position frees its market for new arbitrage
	// entries.
	onRelease := func(string) {}
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(),
		Markets: handler.NewMarketHandler(store, a.logger),
		Trades:  handler.NewTradeHandler(eng, a.logger),
	}
	if arbSvc != nil {
		handlers.Arb = handler.NewArbHandler(arbSvc, a.logger)
		onRelease = arbSvc.Untrack
	}
	handlers.Positions = handler.NewPositionHandler(eng, onRelease, a.logger)
	if copySvc != nil {
		handlers.CopyTrade = handler.NewCopyTradeHandler(copySvc, ctx, a.logger)
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
