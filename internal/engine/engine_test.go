package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeQuotes serves fixed bids/asks per market and outcome.
type fakeQuotes struct {
	markets map[string]domain.MarketData
}

func newFakeQuotes() *fakeQuotes {
	return &fakeQuotes{markets: make(map[string]domain.MarketData)}
}

func (q *fakeQuotes) set(marketID string, outcome domain.Outcome, bid, ask float64) {
	m := q.markets[marketID]
	m.MarketID = marketID
	quote := domain.Quote{Bid: &bid, Ask: &ask}
	if outcome == domain.OutcomeYes {
		m.Yes = quote
	} else {
		m.No = quote
	}
	q.markets[marketID] = m
}

func (q *fakeQuotes) Market(marketID string) (domain.MarketData, bool) {
	m, ok := q.markets[marketID]
	return m, ok
}

func (q *fakeQuotes) BestAsk(marketID string, o domain.Outcome) (float64, bool) {
	m, ok := q.markets[marketID]
	if !ok {
		return 0, false
	}
	quote := m.Yes
	if o == domain.OutcomeNo {
		quote = m.No
	}
	if quote.Ask == nil {
		return 0, false
	}
	return *quote.Ask, true
}

func (q *fakeQuotes) BestBid(marketID string, o domain.Outcome) (float64, bool) {
	m, ok := q.markets[marketID]
	if !ok {
		return 0, false
	}
	quote := m.Yes
	if o == domain.OutcomeNo {
		quote = m.No
	}
	if quote.Bid == nil {
		return 0, false
	}
	return *quote.Bid, true
}

func buyOrder(marketID string, outcome domain.Outcome, size, price float64) domain.TradeOrder {
	return domain.TradeOrder{
		MarketID: marketID,
		Outcome:  outcome,
		Side:     domain.OrderSideBuy,
		Size:     size,
		Price:    price,
	}
}

func TestEngine_ExecuteTrade_LimitBuy(t *testing.T) {
	e := New(newFakeQuotes(), 1000, Options{}, testLogger())

	fill := e.ExecuteTrade(context.Background(), buyOrder("m1", domain.OutcomeYes, 50, 0.50))
	require.True(t, fill.Filled())
	assert.Equal(t, 0.50, fill.Price)
	assert.InDelta(t, 100, fill.Tokens, 1e-9)
	assert.InDelta(t, 950, e.Balance(), 1e-9)

	pos, ok := e.Position("m1")
	require.True(t, ok)
	assert.InDelta(t, 100, pos.YesTokens, 1e-9)
	assert.InDelta(t, 0.50, pos.YesEntryPrice, 1e-9)
	assert.InDelta(t, 50, pos.TotalEntryCost, 1e-9)
}

func TestEngine_ExecuteTrade_MarketOrderUsesBook(t *testing.T) {
	quotes := newFakeQuotes()
	quotes.set("m1", domain.OutcomeYes, 0.48, 0.52)
	e := New(quotes, 1000, Options{}, testLogger())

	buy := e.ExecuteTrade(context.Background(), buyOrder("m1", domain.OutcomeYes, 52, 0))
	require.True(t, buy.Filled())
	assert.Equal(t, 0.52, buy.Price, "market buy fills at best ask")

	sell := e.ExecuteTrade(context.Background(), domain.TradeOrder{
		MarketID: "m1",
		Outcome:  domain.OutcomeYes,
		Side:     domain.OrderSideSell,
		Size:     0.48 * buy.Tokens,
	})
	require.True(t, sell.Filled())
	assert.Equal(t, 0.48, sell.Price, "market sell fills at best bid")
}

func TestEngine_ExecuteTrade_Rejections(t *testing.T) {
	e := New(newFakeQuotes(), 100, Options{}, testLogger())
	ctx := context.Background()

	tests := []struct {
		name  string
		order domain.TradeOrder
	}{
		{"market order without market data", buyOrder("unknown", domain.OutcomeYes, 10, 0)},
		{"price above one", buyOrder("m1", domain.OutcomeYes, 10, 1.5)},
		{"negative price", buyOrder("m1", domain.OutcomeYes, 10, -0.1)},
		{"zero size", buyOrder("m1", domain.OutcomeYes, 0, 0.5)},
		{"insufficient balance", buyOrder("m1", domain.OutcomeYes, 500, 0.5)},
		{"sell without position", domain.TradeOrder{
			MarketID: "m1", Outcome: domain.OutcomeYes,
			Side: domain.OrderSideSell, Size: 10, Price: 0.5,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fill := e.ExecuteTrade(ctx, tt.order)
			assert.Equal(t, domain.FillStatusRejected, fill.Status)
			assert.NotEmpty(t, fill.Reason)
		})
	}

	// Rejections never mutate state.
	assert.InDelta(t, 100, e.Balance(), 1e-9)
	assert.Empty(t, e.Positions())
	assert.Empty(t, e.History(0))
}

func TestEngine_WeightedAverageEntry(t *testing.T) {
	e := New(newFakeQuotes(), 1000, Options{}, testLogger())
	ctx := context.Background()

	require.True(t, e.ExecuteTrade(ctx, buyOrder("m1", domain.OutcomeYes, 40, 0.40)).Filled()) // 100 tokens
	require.True(t, e.ExecuteTrade(ctx, buyOrder("m1", domain.OutcomeYes, 30, 0.60)).Filled()) // 50 tokens

	pos, ok := e.Position("m1")
	require.True(t, ok)
	assert.InDelta(t, 150, pos.YesTokens, 1e-9)
	// (100*0.40 + 50*0.60) / 150
	assert.InDelta(t, 70.0/150.0, pos.YesEntryPrice, 1e-9)
	assert.InDelta(t, 70, pos.TotalEntryCost, 1e-9)
}

func TestEngine_SellReducesAndDeletesPosition(t *testing.T) {
	e := New(newFakeQuotes(), 1000, Options{}, testLogger())
	ctx := context.Background()

	require.True(t, e.ExecuteTrade(ctx, buyOrder("m1", domain.OutcomeYes, 50, 0.50)).Filled()) // 100 tokens

	sell := e.ExecuteTrade(ctx, domain.TradeOrder{
		MarketID: "m1", Outcome: domain.OutcomeYes,
		Side: domain.OrderSideSell, Size: 30, Price: 0.60, // 50 tokens
	})
	require.True(t, sell.Filled())
	assert.InDelta(t, 980, e.Balance(), 1e-9)

	pos, ok := e.Position("m1")
	require.True(t, ok)
	assert.InDelta(t, 50, pos.YesTokens, 1e-9)

	// Selling the remainder empties and deletes the position.
	rest := e.ExecuteTrade(ctx, domain.TradeOrder{
		MarketID: "m1", Outcome: domain.OutcomeYes,
		Side: domain.OrderSideSell, Size: 50 * 0.60, Price: 0.60,
	})
	require.True(t, rest.Filled())
	_, ok = e.Position("m1")
	assert.False(t, ok)
}

func TestEngine_SellMoreThanHeldRejected(t *testing.T) {
	e := New(newFakeQuotes(), 1000, Options{}, testLogger())
	ctx := context.Background()

	require.True(t, e.ExecuteTrade(ctx, buyOrder("m1", domain.OutcomeYes, 50, 0.50)).Filled()) // 100 tokens

	fill := e.ExecuteTrade(ctx, domain.TradeOrder{
		MarketID: "m1", Outcome: domain.OutcomeYes,
		Side: domain.OrderSideSell, Size: 101 * 0.50, Price: 0.50,
	})
	assert.Equal(t, domain.FillStatusRejected, fill.Status)
}

func TestEngine_UnrealizedPnL(t *testing.T) {
	quotes := newFakeQuotes()
	e := New(quotes, 1000, Options{}, testLogger())
	ctx := context.Background()

	require.True(t, e.ExecuteTrade(ctx, buyOrder("m1", domain.OutcomeYes, 50, 0.50)).Filled()) // 100 tokens

	// No bid available: unrealized PnL is unknown, not zero.
	pos, ok := e.Position("m1")
	require.True(t, ok)
	assert.Nil(t, pos.UnrealizedPnL)

	quotes.set("m1", domain.OutcomeYes, 0.60, 0.62)
	pos, ok = e.Position("m1")
	require.True(t, ok)
	require.NotNil(t, pos.UnrealizedPnL)
	// 100 tokens * 0.60 - 50 entry cost
	assert.InDelta(t, 10, *pos.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 10, e.PnL(), 1e-9)
}

func TestEngine_ClosePosition(t *testing.T) {
	quotes := newFakeQuotes()
	quotes.set("m1", domain.OutcomeYes, 0.60, 0.62)
	e := New(quotes, 1000, Options{}, testLogger())
	ctx := context.Background()

	require.True(t, e.ExecuteTrade(ctx, buyOrder("m1", domain.OutcomeYes, 50, 0.50)).Filled()) // 100 tokens

	realized, err := e.ClosePosition(ctx, "m1")
	require.NoError(t, err)
	// 100 tokens * (0.60 - 0.50)
	assert.InDelta(t, 10, realized, 1e-9)
	assert.InDelta(t, 10, e.RealizedPnL(), 1e-9)
	assert.InDelta(t, 1010, e.Balance(), 1e-9)
	_, ok := e.Position("m1")
	assert.False(t, ok)
}

func TestEngine_ClosePosition_NoPosition(t *testing.T) {
	e := New(newFakeQuotes(), 1000, Options{}, testLogger())
	_, err := e.ClosePosition(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNoPosition)
}

func TestEngine_ClosePosition_FallsBackToEntryPrice(t *testing.T) {
	e := New(newFakeQuotes(), 1000, Options{}, testLogger())
	ctx := context.Background()

	require.True(t, e.ExecuteTrade(ctx, buyOrder("m1", domain.OutcomeYes, 50, 0.50)).Filled())

	// No bid anywhere: closing at entry realizes zero.
	realized, err := e.ClosePosition(ctx, "m1")
	require.NoError(t, err)
	assert.InDelta(t, 0, realized, 1e-9)
	assert.InDelta(t, 1000, e.Balance(), 1e-9)
}

func TestEngine_CloseAllPositions(t *testing.T) {
	quotes := newFakeQuotes()
	quotes.set("m1", domain.OutcomeYes, 0.60, 0.62)
	quotes.set("m2", domain.OutcomeNo, 0.30, 0.32)
	e := New(quotes, 1000, Options{}, testLogger())
	ctx := context.Background()

	require.True(t, e.ExecuteTrade(ctx, buyOrder("m1", domain.OutcomeYes, 50, 0.50)).Filled())
	require.True(t, e.ExecuteTrade(ctx, domain.TradeOrder{
		MarketID: "m2", Outcome: domain.OutcomeNo,
		Side: domain.OrderSideBuy, Size: 20, Price: 0.40,
	}).Filled())

	total, err := e.CloseAllPositions(ctx)
	require.NoError(t, err)
	// m1: 100*(0.60-0.50)=10; m2: 50*(0.30-0.40)=-5
	assert.InDelta(t, 5, total, 1e-9)
	assert.Empty(t, e.Positions())
}

func TestEngine_RedeemPosition(t *testing.T) {
	e := New(newFakeQuotes(), 1000, Options{}, testLogger())
	ctx := context.Background()

	// Hedged book: 100 YES @ 0.45, 50 NO @ 0.50.
	require.True(t, e.ExecuteTrade(ctx, buyOrder("m1", domain.OutcomeYes, 45, 0.45)).Filled())
	require.True(t, e.ExecuteTrade(ctx, domain.TradeOrder{
		MarketID: "m1", Outcome: domain.OutcomeNo,
		Side: domain.OrderSideBuy, Size: 25, Price: 0.50,
	}).Filled())

	red, err := e.RedeemPosition(ctx, "m1", domain.OutcomeYes)
	require.NoError(t, err)
	assert.InDelta(t, 100, red.Proceeds, 1e-9)
	// 100*(1-0.45) + 50*(0-0.50) = 55 - 25 = 30
	assert.InDelta(t, 30, red.RealizedPnL, 1e-9)
	assert.InDelta(t, 1030, e.Balance(), 1e-9)
	assert.InDelta(t, 30, e.RealizedPnL(), 1e-9)

	_, ok := e.Position("m1")
	assert.False(t, ok)

	// The settlement shows up in the trade log.
	hist := e.History(1)
	require.Len(t, hist, 1)
	assert.Equal(t, "redemption", hist[0].Source)
	assert.Equal(t, 1.0, hist[0].Price)

	_, err = e.RedeemPosition(ctx, "m1", domain.OutcomeYes)
	assert.ErrorIs(t, err, domain.ErrNoPosition)
}

func TestEngine_HistoryNewestFirstAndBounded(t *testing.T) {
	e := New(newFakeQuotes(), 1e9, Options{}, testLogger())
	ctx := context.Background()

	for i := 0; i < historyCap+10; i++ {
		fill := e.ExecuteTrade(ctx, buyOrder(fmt.Sprintf("m%d", i), domain.OutcomeYes, 1, 0.50))
		require.True(t, fill.Filled())
	}

	all := e.History(0)
	require.Len(t, all, historyCap, "log is bounded")
	assert.Equal(t, fmt.Sprintf("m%d", historyCap+9), all[0].MarketID, "newest first")

	limited := e.History(5)
	require.Len(t, limited, 5)
	assert.Equal(t, all[0].ID, limited[0].ID)
}

// archiveSink captures evicted records.
type archiveSink struct {
	batches [][]domain.TradeRecord
}

func (a *archiveSink) Archive(_ context.Context, records []domain.TradeRecord) error {
	batch := make([]domain.TradeRecord, len(records))
	copy(batch, records)
	a.batches = append(a.batches, batch)
	return nil
}

func TestEngine_EvictionArchivesOldestRecords(t *testing.T) {
	sink := &archiveSink{}
	e := New(newFakeQuotes(), 1e9, Options{Archiver: sink}, testLogger())
	ctx := context.Background()

	total := historyCap + archiveBatchSize + 5
	for i := 0; i < total; i++ {
		require.True(t, e.ExecuteTrade(ctx, buyOrder(fmt.Sprintf("m%d", i), domain.OutcomeYes, 1, 0.50)).Filled())
	}

	require.NotEmpty(t, sink.batches)
	assert.Len(t, sink.batches[0], archiveBatchSize)
	assert.Equal(t, "m0", sink.batches[0][0].MarketID, "oldest evicted record archives first")

	// Close flushes the remainder.
	e.Close(ctx)
	var archived int
	for _, b := range sink.batches {
		archived += len(b)
	}
	assert.Equal(t, total-historyCap, archived)
}
