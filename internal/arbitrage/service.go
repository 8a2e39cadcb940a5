package arbitrage

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// MarketFeed is the market-store surface the service consumes: snapshots,
// live prices, and update fan-out.
type MarketFeed interface {
	MarketReader
	Markets() []domain.MarketData
	OnUpdate(func(domain.MarketData))
}

// Engine is the execution-engine subset the service needs to place legs.
type Engine interface {
	ExecuteTrade(ctx context.Context, order domain.TradeOrder) domain.Fill
	Balance() float64
	Position(marketID string) (domain.Position, bool)
}

// ServiceConfig holds the orchestrator's timing knobs.
type ServiceConfig struct {
	// DebounceWindow coalesces bursts of feed updates into at most one scan
	// per window.
	DebounceWindow time.Duration
	// FallbackInterval guarantees a minimum scan cadence when the feed stalls.
	FallbackInterval time.Duration
}

// Options carries optional service collaborators. A nil Bus disables
// opportunity broadcasting.
type Options struct {
	Bus domain.SignalBus
}

// Service orchestrates when to scan and executes at most the single
// top-ranked opportunity per cycle.
type Service struct {
	detector *Detector
	feed     MarketFeed
	engine   Engine
	cfg      ServiceConfig
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	tracked map[string]struct{}
	cancel  context.CancelFunc
	done    chan struct{}

	// kick receives a token per feed update; the run loop debounces it.
	kick chan struct{}
}

// NewService creates the arbitrage orchestrator. Defaults: 100ms debounce,
// 5s fallback.
func NewService(detector *Detector, feed MarketFeed, engine Engine, cfg ServiceConfig, opts Options, logger *slog.Logger) *Service {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 100 * time.Millisecond
	}
	if cfg.FallbackInterval <= 0 {
		cfg.FallbackInterval = 5 * time.Second
	}
	s := &Service{
		detector: detector,
		feed:     feed,
		engine:   engine,
		cfg:      cfg,
		opts:     opts,
		logger:   logger.With(slog.String("component", "arb_service")),
		tracked:  make(map[string]struct{}),
		kick:     make(chan struct{}, 1),
	}
	feed.OnUpdate(func(domain.MarketData) { s.requestScan() })
	return s
}

// Start transitions stopped -> running and launches the scan loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return domain.ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)
	s.logger.Info("arbitrage service started",
		slog.Duration("debounce", s.cfg.DebounceWindow),
		slog.Duration("fallback", s.cfg.FallbackInterval),
	)
	return nil
}

// Stop cancels the scan loop's timers and waits for it to exit. In-flight
// work finishes on its own; late results are discarded.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return domain.ErrNotRunning
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("arbitrage service stopped")
	return nil
}

// Running reports whether the service is in the running state.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// requestScan coalesces: a pending kick absorbs any number of further
// updates until the debounce window fires.
func (s *Service) requestScan() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	fallback := time.NewTicker(s.cfg.FallbackInterval)
	defer fallback.Stop()

	debounce := time.NewTimer(s.cfg.DebounceWindow)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
			if !pending {
				debounce.Reset(s.cfg.DebounceWindow)
				pending = true
			}
		case <-debounce.C:
			pending = false
			s.ScanOnce(ctx)
		case <-fallback.C:
			s.ScanOnce(ctx)
		}
	}
}

// ScanOnce runs one scan cycle: rank opportunities and execute at most the
// top one.
func (s *Service) ScanOnce(ctx context.Context) {
	opps := s.detector.ScanOpportunities(s.feed.Markets(), s.IsTracked)
	if len(opps) == 0 {
		return
	}
	s.publishOpportunities(ctx, opps)
	s.ExecuteArbitrage(ctx, opps[0])
}

// publishOpportunities broadcasts the ranked scan result on the signal bus.
// Broadcast failures never affect execution.
func (s *Service) publishOpportunities(ctx context.Context, opps []domain.ArbitrageOpportunity) {
	if s.opts.Bus == nil {
		return
	}
	payload, err := json.Marshal(opps)
	if err != nil {
		return
	}
	if err := s.opts.Bus.Publish(ctx, "arbitrage", payload); err != nil {
		s.logger.Debug("opportunity broadcast failed", slog.String("error", err.Error()))
	}
}

// Opportunities returns the current ranked opportunities without executing.
// A non-nil feeBuffer overrides the configured buffer for this scan only.
func (s *Service) Opportunities(feeBuffer *float64) []domain.ArbitrageOpportunity {
	d := s.detector
	if feeBuffer != nil {
		cfg := d.cfg
		cfg.FeeBuffer = *feeBuffer
		d = NewDetector(cfg)
	}
	return d.ScanOpportunities(s.feed.Markets(), s.IsTracked)
}

// ExecuteArbitrage builds a plan and submits the YES leg then the NO leg
// sequentially at the plan's captured prices. The market is marked tracked
// only when both legs fill. A single filled leg is an unhedged position:
// logged as critical with no automatic unwind.
func (s *Service) ExecuteArbitrage(ctx context.Context, opp domain.ArbitrageOpportunity) {
	log := s.logger.With(
		slog.String("market_id", opp.MarketID),
		slog.String("opp_id", opp.ID),
	)

	plan := s.detector.CreateExecutionPlan(opp, s.feed)
	if plan == nil {
		log.Info("plan invalidated by live prices, skipping")
		return
	}
	if _, exists := s.engine.Position(opp.MarketID); exists {
		log.Info("position already open, skipping")
		return
	}
	if bal := s.engine.Balance(); bal < plan.TotalCost {
		log.Info("insufficient balance for plan, skipping",
			slog.Float64("balance", bal),
			slog.Float64("plan_cost", plan.TotalCost),
		)
		return
	}

	yesFill := s.engine.ExecuteTrade(ctx, domain.TradeOrder{
		MarketID: opp.MarketID,
		Outcome:  domain.OutcomeYes,
		Side:     domain.OrderSideBuy,
		Size:     plan.YesSize,
		Price:    plan.YesPrice,
		Source:   "arbitrage",
	})
	noFill := s.engine.ExecuteTrade(ctx, domain.TradeOrder{
		MarketID: opp.MarketID,
		Outcome:  domain.OutcomeNo,
		Side:     domain.OrderSideBuy,
		Size:     plan.NoSize,
		Price:    plan.NoPrice,
		Source:   "arbitrage",
	})

	switch {
	case yesFill.Filled() && noFill.Filled():
		s.Track(opp.MarketID)
		log.Info("arbitrage executed",
			slog.Float64("yes_price", yesFill.Price),
			slog.Float64("no_price", noFill.Price),
			slog.Float64("total_cost", plan.TotalCost),
			slog.Float64("profit_after_fees", plan.Opportunity.ProfitAfterFees),
		)
	case yesFill.Filled() != noFill.Filled():
		log.Error("CRITICAL: unhedged single-leg arbitrage position, manual intervention required",
			slog.Bool("yes_filled", yesFill.Filled()),
			slog.Bool("no_filled", noFill.Filled()),
			slog.String("yes_reason", yesFill.Reason),
			slog.String("no_reason", noFill.Reason),
		)
	default:
		log.Warn("both arbitrage legs rejected",
			slog.String("yes_reason", yesFill.Reason),
			slog.String("no_reason", noFill.Reason),
		)
	}
}

// Track marks a market as holding an arbitrage position, suppressing further
// entries.
func (s *Service) Track(marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked[marketID] = struct{}{}
}

// Untrack releases a market for future entries, typically after its position
// is closed or redeemed.
func (s *Service) Untrack(marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tracked, marketID)
}

// IsTracked reports whether a market currently holds an arbitrage position.
func (s *Service) IsTracked(marketID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tracked[marketID]
	return ok
}

// Tracked returns the tracked market ids.
func (s *Service) Tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tracked))
	for id := range s.tracked {
		out = append(out, id)
	}
	return out
}
