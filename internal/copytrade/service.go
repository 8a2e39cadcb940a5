// Package copytrade polls external addresses' activity feeds and mirrors
// their trades with volume-proportional sizing through the paper engine.
package copytrade

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// detectedRetention bounds the in-memory list of recent detected trades
// served to the dashboard.
const detectedRetention = 500

// ActivityFetcher queries a per-address activity feed.
type ActivityFetcher interface {
	UserActivity(ctx context.Context, address string, limit, offset int) ([]domain.Activity, error)
}

// MetadataFetcher queries per-market resolution metadata.
type MetadataFetcher interface {
	MarketMetadata(ctx context.Context, marketID string) (domain.MarketMetadata, error)
}

// Limiter is the shared outbound request budget.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Engine is the execution-engine subset the service needs.
type Engine interface {
	ExecuteTrade(ctx context.Context, order domain.TradeOrder) domain.Fill
	Position(marketID string) (domain.Position, bool)
	RedeemPosition(ctx context.Context, marketID string, winning domain.Outcome) (domain.Redemption, error)
}

// Config holds the copy-trading knobs.
type Config struct {
	PollInterval        time.Duration
	ActivityLimit       int
	WindowSize          int
	MinTradeSize        float64
	MaxTradeSize        float64
	MinVolumeForScaling float64
	MetadataTTL         time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ActivityLimit <= 0 {
		c.ActivityLimit = 20
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 20
	}
	if c.MetadataTTL <= 0 {
		c.MetadataTTL = 60 * time.Second
	}
}

// Options carries optional collaborators; all are nil-safe.
type Options struct {
	Store domain.CopyTradeStore
	Cache domain.MetadataCache
	Bus   domain.SignalBus
}

// Service is the copy-trading poller: stopped -> running with a silent poll
// sub-phase per user that establishes a seen-hash watermark so restarts never
// replay a user's history. A user counts as seeded only once a fetch for that
// user has succeeded; until then every cycle stays silent for them.
type Service struct {
	activities ActivityFetcher
	metadata   MetadataFetcher
	limiter    Limiter
	engine     Engine
	opts       Options
	logger     *slog.Logger

	mu        sync.Mutex
	cfg       Config
	running   bool
	users     map[string]domain.TrackedUser
	userOrder []string
	seeded    map[string]bool
	windows   map[string]*tradeWindow
	seen      map[string]struct{}
	detected  []domain.DetectedTrade
	cancel    context.CancelFunc
	done      chan struct{}

	now func() time.Time
}

// NewService creates the copy-trading service with an injected initial user
// list; there are no hardcoded defaults.
func NewService(
	activities ActivityFetcher,
	metadata MetadataFetcher,
	limiter Limiter,
	engine Engine,
	cfg Config,
	initialUsers []domain.TrackedUser,
	opts Options,
	logger *slog.Logger,
) (*Service, error) {
	cfg.applyDefaults()
	if opts.Cache == nil {
		opts.Cache = newMemoryMetadataCache()
	}
	s := &Service{
		activities: activities,
		metadata:   metadata,
		limiter:    limiter,
		engine:     engine,
		opts:       opts,
		cfg:        cfg,
		users:      make(map[string]domain.TrackedUser),
		seeded:     make(map[string]bool),
		windows:    make(map[string]*tradeWindow),
		seen:       make(map[string]struct{}),
		logger:     logger.With(slog.String("component", "copytrade_service")),
		now:        time.Now,
	}
	for _, u := range initialUsers {
		if err := s.AddUser(u.Address, u.Label); err != nil {
			return nil, fmt.Errorf("copytrade: initial user %q: %w", u.Address, err)
		}
	}
	return s, nil
}

// normalizeAddress validates and lower-cases an Ethereum address.
func normalizeAddress(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("invalid address %q", addr)
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}

// AddUser starts tracking an address. Adding an existing address is a no-op.
// A user added while the poller runs starts unseeded, so their backlog is
// absorbed silently on their first successful fetch.
func (s *Service) AddUser(address, label string) error {
	norm, err := normalizeAddress(address)
	if err != nil {
		return fmt.Errorf("copytrade: add user: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[norm]; ok {
		return nil
	}
	s.users[norm] = domain.TrackedUser{Address: norm, Label: label, AddedAt: s.now()}
	s.userOrder = append(s.userOrder, norm)
	s.logger.Info("tracking user", slog.String("address", norm), slog.String("label", label))
	return nil
}

// RemoveUser stops tracking an address and drops its rolling window.
// Removing an unknown address is a no-op.
func (s *Service) RemoveUser(address string) error {
	norm, err := normalizeAddress(address)
	if err != nil {
		return fmt.Errorf("copytrade: remove user: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[norm]; !ok {
		return nil
	}
	delete(s.users, norm)
	delete(s.seeded, norm)
	delete(s.windows, norm)
	for i, a := range s.userOrder {
		if a == norm {
			s.userOrder = append(s.userOrder[:i], s.userOrder[i+1:]...)
			break
		}
	}
	s.logger.Info("untracked user", slog.String("address", norm))
	return nil
}

// Users returns the tracked users in insertion order.
func (s *Service) Users() []domain.TrackedUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TrackedUser, 0, len(s.userOrder))
	for _, addr := range s.userOrder {
		out = append(out, s.users[addr])
	}
	return out
}

// Config returns the current configuration.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// UpdateConfig replaces the sizing and polling knobs. The new poll interval
// takes effect on the next cycle.
func (s *Service) UpdateConfig(cfg Config) {
	cfg.applyDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.logger.Info("copytrade config updated",
		slog.Duration("poll_interval", cfg.PollInterval),
		slog.Float64("min_trade_size", cfg.MinTradeSize),
		slog.Float64("max_trade_size", cfg.MaxTradeSize),
	)
}

// Detected returns the most recent detected trades, newest first.
func (s *Service) Detected(limit int) []domain.DetectedTrade {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.detected)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.DetectedTrade, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.detected[i])
	}
	return out
}

// Running reports whether the poller is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start transitions stopped -> running. Every user is re-armed for a silent
// first fetch: their activities are marked seen, none are executed, until a
// fetch for that user succeeds.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return domain.ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.seeded = make(map[string]bool)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)
	s.logger.Info("copy trading started",
		slog.Duration("poll_interval", s.cfg.PollInterval),
		slog.Int("users", len(s.users)),
	)
	return nil
}

// Stop cancels the poll loop and waits for the current cycle to wind down.
// In-flight fetches are not forcibly aborted; their results are discarded.
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
	s.logger.Info("copy trading stopped")
	return nil
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	// Initial watermark cycle runs immediately.
	s.PollOnce(ctx)

	for {
		s.mu.Lock()
		interval := s.cfg.PollInterval
		s.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.PollOnce(ctx)
		}
	}
}

// PollOnce runs one poll cycle: every tracked user visited sequentially to
// respect the shared rate budget. One user's failure never aborts the rest.
func (s *Service) PollOnce(ctx context.Context) {
	s.mu.Lock()
	addrs := make([]string, len(s.userOrder))
	copy(addrs, s.userOrder)
	s.mu.Unlock()

	for _, addr := range addrs {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		initial := !s.seeded[addr]
		s.mu.Unlock()

		if err := s.pollUser(ctx, addr, initial); err != nil {
			// A failed user stays unseeded and is retried next cycle.
			s.logger.Warn("user poll failed",
				slog.String("address", addr),
				slog.String("error", err.Error()),
			)
			continue
		}
		if initial {
			s.mu.Lock()
			s.seeded[addr] = true
			watermark := len(s.seen)
			s.mu.Unlock()
			s.logger.Info("watermark established",
				slog.String("address", addr),
				slog.Int("seen_activities", watermark),
			)
		}
	}
}

// pollUser fetches one user's recent activity, refreshes the rolling window,
// and processes previously-unseen entries in chronological order.
func (s *Service) pollUser(ctx context.Context, addr string, initial bool) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	limit := s.cfg.ActivityLimit
	s.mu.Unlock()

	acts, err := s.activities.UserActivity(ctx, addr, limit, 0)
	if err != nil {
		return fmt.Errorf("fetch activity: %w", err)
	}

	sort.SliceStable(acts, func(i, j int) bool {
		return acts[i].Timestamp.Before(acts[j].Timestamp)
	})

	for _, act := range acts {
		if act.TxHash == "" {
			continue
		}
		s.observe(addr, act)

		s.mu.Lock()
		_, alreadySeen := s.seen[act.TxHash]
		if !alreadySeen {
			s.seen[act.TxHash] = struct{}{}
		}
		s.mu.Unlock()
		if alreadySeen || initial {
			continue
		}

		s.dispatch(ctx, addr, act)
	}
	return nil
}

// observe inserts TRADE-typed activity into the user's rolling window.
// Re-inserting a known hash never changes the window.
func (s *Service) observe(addr string, act domain.Activity) {
	if act.Type != domain.ActivityTrade {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[addr]
	if !ok || w.capacity != s.cfg.WindowSize {
		nw := newTradeWindow(s.cfg.WindowSize)
		if ok {
			for _, h := range w.order {
				nw.Insert(h, w.sizes[h])
			}
		}
		w = nw
		s.windows[addr] = w
	}
	w.Insert(act.TxHash, act.USDSize)
}

// dispatch routes an unseen activity by its closed type set. SPLIT, MERGE,
// REWARD, and CONVERSION are observed but never mirrored.
func (s *Service) dispatch(ctx context.Context, addr string, act domain.Activity) {
	switch act.Type {
	case domain.ActivityTrade:
		s.handleTrade(ctx, addr, act)
	case domain.ActivityRedeem:
		s.handleRedeem(ctx, addr, act)
	case domain.ActivitySplit, domain.ActivityMerge, domain.ActivityReward, domain.ActivityConversion:
		s.logger.Debug("ignored activity type",
			slog.String("type", string(act.Type)),
			slog.String("tx_hash", act.TxHash),
		)
	}
}
