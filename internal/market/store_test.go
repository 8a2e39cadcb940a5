package market

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bookUpdate(marketID string, outcome domain.Outcome, bid, ask float64, ts time.Time) domain.BookUpdate {
	return domain.BookUpdate{
		MarketID:  marketID,
		Outcome:   outcome,
		Bids:      []domain.PriceLevel{{Price: bid, Size: 100}},
		Asks:      []domain.PriceLevel{{Price: ask, Size: 100}},
		Timestamp: ts,
	}
}

func TestStore_UpdateOrderBook_CreatesMarket(t *testing.T) {
	s := NewStore(30*time.Second, testLogger())
	now := time.Now()

	s.UpdateOrderBook(bookUpdate("m1", domain.OutcomeYes, 0.44, 0.45, now))

	m, ok := s.Market("m1")
	require.True(t, ok)
	require.NotNil(t, m.Yes.Ask)
	assert.Equal(t, 0.45, *m.Yes.Ask)
	require.NotNil(t, m.Yes.Bid)
	assert.Equal(t, 0.44, *m.Yes.Bid)
	assert.Nil(t, m.No.Ask)
	assert.Equal(t, 1, s.Len())
}

func TestStore_UpdateOrderBook_MergesBestLevels(t *testing.T) {
	s := NewStore(30*time.Second, testLogger())
	now := time.Now()

	s.UpdateOrderBook(domain.BookUpdate{
		MarketID: "m1",
		Outcome:  domain.OutcomeYes,
		Bids: []domain.PriceLevel{
			{Price: 0.40, Size: 50},
			{Price: 0.44, Size: 10},
			{Price: 0.42, Size: 70},
		},
		Asks: []domain.PriceLevel{
			{Price: 0.48, Size: 30},
			{Price: 0.45, Size: 5},
		},
		Timestamp: now,
	})

	ask, ok := s.BestAsk("m1", domain.OutcomeYes)
	require.True(t, ok)
	assert.Equal(t, 0.45, ask)

	bid, ok := s.BestBid("m1", domain.OutcomeYes)
	require.True(t, ok)
	assert.Equal(t, 0.44, bid)
}

func TestStore_UpdateOrderBook_EmptySideKeepsPrevious(t *testing.T) {
	s := NewStore(30*time.Second, testLogger())
	now := time.Now()

	s.UpdateOrderBook(bookUpdate("m1", domain.OutcomeYes, 0.44, 0.45, now))
	// Update with an empty bid side must not erase the known bid.
	s.UpdateOrderBook(domain.BookUpdate{
		MarketID:  "m1",
		Outcome:   domain.OutcomeYes,
		Asks:      []domain.PriceLevel{{Price: 0.46, Size: 10}},
		Timestamp: now.Add(time.Second),
	})

	bid, ok := s.BestBid("m1", domain.OutcomeYes)
	require.True(t, ok)
	assert.Equal(t, 0.44, bid)

	ask, ok := s.BestAsk("m1", domain.OutcomeYes)
	require.True(t, ok)
	assert.Equal(t, 0.46, ask)
}

func TestStore_LastUpdateMonotonic(t *testing.T) {
	s := NewStore(30*time.Second, testLogger())
	now := time.Now()

	s.UpdateOrderBook(bookUpdate("m1", domain.OutcomeYes, 0.44, 0.45, now))
	// An out-of-order update must not move market time backwards.
	s.UpdateOrderBook(bookUpdate("m1", domain.OutcomeNo, 0.50, 0.52, now.Add(-time.Minute)))

	m, ok := s.Market("m1")
	require.True(t, ok)
	assert.Equal(t, now, m.LastUpdate)
}

func TestStore_CallbackOnlyWhenTwoSided(t *testing.T) {
	s := NewStore(30*time.Second, testLogger())
	now := time.Now()

	var calls []domain.MarketData
	s.OnUpdate(func(m domain.MarketData) { calls = append(calls, m) })

	s.UpdateOrderBook(bookUpdate("m1", domain.OutcomeYes, 0.44, 0.45, now))
	assert.Empty(t, calls, "one-sided market must not fire callbacks")

	s.UpdateOrderBook(bookUpdate("m1", domain.OutcomeNo, 0.50, 0.52, now))
	require.Len(t, calls, 1)
	assert.Equal(t, "m1", calls[0].MarketID)
	require.NotNil(t, calls[0].No.Ask)
	assert.Equal(t, 0.52, *calls[0].No.Ask)
}

func TestStore_Staleness(t *testing.T) {
	s := NewStore(30*time.Second, testLogger())

	s.UpdateOrderBook(bookUpdate("old", domain.OutcomeYes, 0.44, 0.45, time.Now().Add(-time.Minute)))
	s.UpdateOrderBook(bookUpdate("fresh", domain.OutcomeYes, 0.44, 0.45, time.Now()))

	old, ok := s.Market("old")
	require.True(t, ok)
	assert.True(t, old.IsStale)

	fresh, ok := s.Market("fresh")
	require.True(t, ok)
	assert.False(t, fresh.IsStale)
}

func TestStore_ArbitrageCandidates(t *testing.T) {
	s := NewStore(30*time.Second, testLogger())
	now := time.Now()

	// Cost 0.95: below 1 - 0.02.
	s.UpdateOrderBook(bookUpdate("cheap", domain.OutcomeYes, 0.44, 0.45, now))
	s.UpdateOrderBook(bookUpdate("cheap", domain.OutcomeNo, 0.49, 0.50, now))

	// Cost 1.01: no candidate.
	s.UpdateOrderBook(bookUpdate("fair", domain.OutcomeYes, 0.50, 0.51, now))
	s.UpdateOrderBook(bookUpdate("fair", domain.OutcomeNo, 0.49, 0.50, now))

	// Cheap but stale.
	s.UpdateOrderBook(bookUpdate("stale", domain.OutcomeYes, 0.30, 0.31, now.Add(-time.Minute)))
	s.UpdateOrderBook(bookUpdate("stale", domain.OutcomeNo, 0.30, 0.31, now.Add(-time.Minute)))

	candidates := s.ArbitrageCandidates(0.02)
	require.Len(t, candidates, 1)
	assert.Equal(t, "cheap", candidates[0].MarketID)
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := NewStore(30*time.Second, testLogger())
	s.UpdateOrderBook(bookUpdate("m1", domain.OutcomeYes, 0.44, 0.45, time.Now()))

	m, ok := s.Market("m1")
	require.True(t, ok)
	*m.Yes.Ask = 0.99

	again, ok := s.Market("m1")
	require.True(t, ok)
	assert.Equal(t, 0.45, *again.Yes.Ask, "mutating a snapshot must not affect the store")
}

func TestStore_Remove(t *testing.T) {
	s := NewStore(30*time.Second, testLogger())
	s.UpdateOrderBook(bookUpdate("m1", domain.OutcomeYes, 0.44, 0.45, time.Now()))
	require.Equal(t, 1, s.Len())

	s.Remove("m1")
	assert.Equal(t, 0, s.Len())
	_, ok := s.Market("m1")
	assert.False(t, ok)

	// Removing an unknown market is a no-op.
	s.Remove("missing")
}
