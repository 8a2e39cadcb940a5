// Package market holds the in-memory authoritative store of the latest
// best-bid/best-ask per market outcome, fed by the websocket adapter.
package market

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// UpdateCallback is invoked after a book update once the market has both a
// YES and a NO ask; downstream consumers need the full two-sided cost to act.
type UpdateCallback func(m domain.MarketData)

// Store is the single owner of all market state. Every read and write goes
// through its mutex; callers only ever see value copies.
type Store struct {
	mu         sync.RWMutex
	markets    map[string]*domain.MarketData
	staleAfter time.Duration

	cbMu      sync.RWMutex
	callbacks []UpdateCallback

	now    func() time.Time
	logger *slog.Logger
}

// NewStore creates a Store that marks markets stale once their last update
// is older than staleAfter.
func NewStore(staleAfter time.Duration, logger *slog.Logger) *Store {
	return &Store{
		markets:    make(map[string]*domain.MarketData),
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "market_store")),
	}
}

// OnUpdate registers a callback for two-sided book updates. Callbacks run
// synchronously on the feed goroutine, outside the store lock.
func (s *Store) OnUpdate(cb func(domain.MarketData)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// UpdateOrderBook merges the bid/ask of one outcome into the market's state.
// The market is created on its first update. Market-level LastUpdate only
// moves forward: max(previous, new).
func (s *Store) UpdateOrderBook(u domain.BookUpdate) {
	s.mu.Lock()

	m, ok := s.markets[u.MarketID]
	if !ok {
		m = &domain.MarketData{
			MarketID:    u.MarketID,
			ConditionID: u.ConditionID,
		}
		s.markets[u.MarketID] = m
	}
	if m.ConditionID == "" {
		m.ConditionID = u.ConditionID
	}

	q := &m.Yes
	if u.Outcome == domain.OutcomeNo {
		q = &m.No
	}
	if bid := u.BestBid(); bid != nil {
		q.Bid = bid
	}
	if ask := u.BestAsk(); ask != nil {
		q.Ask = ask
	}
	q.LastUpdate = u.Timestamp
	if u.Timestamp.After(m.LastUpdate) {
		m.LastUpdate = u.Timestamp
	}

	twoSided := m.Yes.Ask != nil && m.No.Ask != nil
	var snapshot domain.MarketData
	if twoSided {
		snapshot = s.snapshotLocked(m)
	}
	s.mu.Unlock()

	if !twoSided {
		return
	}

	s.cbMu.RLock()
	callbacks := s.callbacks
	s.cbMu.RUnlock()
	for _, cb := range callbacks {
		cb(snapshot)
	}
}

// Market returns a copy of the market's latest state with staleness
// recomputed at read time.
func (s *Store) Market(marketID string) (domain.MarketData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[marketID]
	if !ok {
		return domain.MarketData{}, false
	}
	return s.snapshotLocked(m), true
}

// Markets returns copies of every market, ordered by market id, with
// staleness recomputed at read time.
func (s *Store) Markets() []domain.MarketData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MarketData, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, s.snapshotLocked(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// ArbitrageCandidates returns the non-stale markets whose two-sided ask cost
// is below 1-feeBuffer.
func (s *Store) ArbitrageCandidates(feeBuffer float64) []domain.MarketData {
	var out []domain.MarketData
	for _, m := range s.Markets() {
		if m.IsStale {
			continue
		}
		yes, okYes := m.YesAsk()
		no, okNo := m.NoAsk()
		if !okYes || !okNo {
			continue
		}
		if yes+no < 1-feeBuffer {
			out = append(out, m)
		}
	}
	return out
}

// BestAsk returns the latest best ask for one outcome of a market.
func (s *Store) BestAsk(marketID string, o domain.Outcome) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[marketID]
	if !ok {
		return 0, false
	}
	q := m.Yes
	if o == domain.OutcomeNo {
		q = m.No
	}
	if q.Ask == nil {
		return 0, false
	}
	return *q.Ask, true
}

// BestBid returns the latest best bid for one outcome of a market.
func (s *Store) BestBid(marketID string, o domain.Outcome) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[marketID]
	if !ok {
		return 0, false
	}
	q := m.Yes
	if o == domain.OutcomeNo {
		q = m.No
	}
	if q.Bid == nil {
		return 0, false
	}
	return *q.Bid, true
}

// Remove deletes a market from the store. This is the only deletion path
// (explicit unsubscribe); markets otherwise live for the process lifetime.
func (s *Store) Remove(marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[marketID]; ok {
		delete(s.markets, marketID)
		s.logger.Info("market removed", slog.String("market_id", marketID))
	}
}

// Len returns the number of tracked markets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.markets)
}

// snapshotLocked copies a market and recomputes staleness. Caller holds at
// least a read lock.
func (s *Store) snapshotLocked(m *domain.MarketData) domain.MarketData {
	out := *m
	if m.Yes.Bid != nil {
		v := *m.Yes.Bid
		out.Yes.Bid = &v
	}
	if m.Yes.Ask != nil {
		v := *m.Yes.Ask
		out.Yes.Ask = &v
	}
	if m.No.Bid != nil {
		v := *m.No.Bid
		out.No.Bid = &v
	}
	if m.No.Ask != nil {
		v := *m.No.Ask
		out.No.Ask = &v
	}
	out.IsStale = !m.LastUpdate.IsZero() && s.now().Sub(m.LastUpdate) > s.staleAfter
	return out
}
