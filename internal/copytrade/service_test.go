package copytrade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

const testAddr = "0x1111111111111111111111111111111111111111"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeActivities serves a mutable activity feed per address. failures counts
// down transient errors per address before the feed becomes reachable; errFor
// fails an address permanently.
type fakeActivities struct {
	feed     map[string][]domain.Activity
	err      error
	errFor   map[string]error
	failures map[string]int
}

func (f *fakeActivities) UserActivity(_ context.Context, address string, _, _ int) ([]domain.Activity, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.failures[address] > 0 {
		f.failures[address]--
		return nil, errors.New("activity feed unavailable")
	}
	if err := f.errFor[address]; err != nil {
		return nil, err
	}
	return f.feed[address], nil
}

// fakeMetadata serves static market metadata.
type fakeMetadata struct {
	meta map[string]domain.MarketMetadata
	err  error
}

func (f *fakeMetadata) MarketMetadata(_ context.Context, marketID string) (domain.MarketMetadata, error) {
	if f.err != nil {
		return domain.MarketMetadata{}, f.err
	}
	m, ok := f.meta[marketID]
	if !ok {
		return domain.MarketMetadata{}, domain.ErrNotFound
	}
	return m, nil
}

// noLimiter never blocks.
type noLimiter struct{}

func (noLimiter) Wait(context.Context) error { return nil }

// fakeEngine records mirrored orders and redemptions.
type fakeEngine struct {
	orders      []domain.TradeOrder
	redemptions []string
	positions   map[string]domain.Position
	rejectWith  string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{positions: make(map[string]domain.Position)}
}

func (e *fakeEngine) ExecuteTrade(_ context.Context, order domain.TradeOrder) domain.Fill {
	e.orders = append(e.orders, order)
	if e.rejectWith != "" {
		return domain.Fill{Status: domain.FillStatusRejected, Reason: e.rejectWith}
	}
	return domain.Fill{Status: domain.FillStatusFilled, Price: order.Price, Tokens: order.Size / order.Price}
}

func (e *fakeEngine) Position(marketID string) (domain.Position, bool) {
	p, ok := e.positions[marketID]
	return p, ok
}

func (e *fakeEngine) RedeemPosition(_ context.Context, marketID string, winning domain.Outcome) (domain.Redemption, error) {
	if _, ok := e.positions[marketID]; !ok {
		return domain.Redemption{}, domain.ErrNoPosition
	}
	e.redemptions = append(e.redemptions, marketID+":"+string(winning))
	delete(e.positions, marketID)
	return domain.Redemption{MarketID: marketID, WinningOutcome: winning}, nil
}

func tradeActivity(txHash string, usdSize float64, ts time.Time) domain.Activity {
	return domain.Activity{
		TxHash:    txHash,
		Type:      domain.ActivityTrade,
		User:      testAddr,
		MarketID:  "m1",
		Outcome:   domain.OutcomeYes,
		Side:      domain.OrderSideBuy,
		Price:     0.50,
		USDSize:   usdSize,
		Timestamp: ts,
	}
}

func newTestService(t *testing.T, acts *fakeActivities, meta *fakeMetadata, eng *fakeEngine, cfg Config) *Service {
	t.Helper()
	svc, err := NewService(acts, meta, noLimiter{}, eng, cfg,
		[]domain.TrackedUser{{Address: testAddr}}, Options{}, testLogger())
	require.NoError(t, err)
	return svc
}

func defaultTestConfig() Config {
	return Config{
		MinTradeSize:        1,
		MaxTradeSize:        100,
		MinVolumeForScaling: 10,
	}
}

func TestService_AddUser(t *testing.T) {
	svc := newTestService(t, &fakeActivities{}, &fakeMetadata{}, newFakeEngine(), defaultTestConfig())

	// Addresses normalize to lowercase; re-adding is a no-op.
	require.NoError(t, svc.AddUser("0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD", "whale"))
	require.NoError(t, svc.AddUser("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", "dup"))

	users := svc.Users()
	require.Len(t, users, 2)
	assert.Equal(t, "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", users[1].Address)
	assert.Equal(t, "whale", users[1].Label)

	assert.Error(t, svc.AddUser("not-an-address", ""))
}

func TestService_RemoveUser(t *testing.T) {
	svc := newTestService(t, &fakeActivities{}, &fakeMetadata{}, newFakeEngine(), defaultTestConfig())

	require.NoError(t, svc.RemoveUser(testAddr))
	assert.Empty(t, svc.Users())

	// Unknown address is a no-op, invalid address is an error.
	require.NoError(t, svc.RemoveUser(testAddr))
	assert.Error(t, svc.RemoveUser("bogus"))
}

func TestService_FirstPollIsSilent(t *testing.T) {
	now := time.Now()
	acts := &fakeActivities{feed: map[string][]domain.Activity{
		testAddr: {
			tradeActivity("t1", 20, now.Add(-2*time.Minute)),
			tradeActivity("t2", 30, now.Add(-time.Minute)),
		},
	}}
	eng := newFakeEngine()
	svc := newTestService(t, acts, &fakeMetadata{}, eng, defaultTestConfig())
	ctx := context.Background()

	// Watermark cycle: history observed, nothing executed.
	svc.PollOnce(ctx)
	assert.Empty(t, eng.orders)
	assert.Empty(t, svc.Detected(0))

	// New activity after the watermark executes exactly once.
	acts.feed[testAddr] = append(acts.feed[testAddr], tradeActivity("t3", 25, now))
	svc.PollOnce(ctx)
	require.Len(t, eng.orders, 1)
	assert.Equal(t, "copytrade:"+testAddr, eng.orders[0].Source)
	assert.Equal(t, 0.50, eng.orders[0].Price, "copy order is a limit at the source price")

	// A third poll with the same feed re-detects nothing.
	svc.PollOnce(ctx)
	assert.Len(t, eng.orders, 1)
}

func TestService_FetchFailureDefersWatermark(t *testing.T) {
	now := time.Now()
	acts := &fakeActivities{
		feed: map[string][]domain.Activity{
			testAddr: {
				tradeActivity("t1", 20, now.Add(-2*time.Hour)),
				tradeActivity("t2", 200, now.Add(-time.Hour)),
			},
		},
		failures: map[string]int{testAddr: 1},
	}
	eng := newFakeEngine()
	svc := newTestService(t, acts, &fakeMetadata{}, eng, defaultTestConfig())
	ctx := context.Background()

	// First cycle fails; the user must stay unseeded.
	svc.PollOnce(ctx)
	assert.Empty(t, eng.orders)

	// The first successful fetch absorbs the backlog silently instead of
	// executing hours-old trades as live copies.
	svc.PollOnce(ctx)
	assert.Empty(t, eng.orders)
	assert.Empty(t, svc.Detected(0))

	// Only activity past the watermark executes.
	acts.feed[testAddr] = append(acts.feed[testAddr], tradeActivity("t3", 25, now))
	svc.PollOnce(ctx)
	require.Len(t, eng.orders, 1)
	assert.Equal(t, "copytrade:"+testAddr, eng.orders[0].Source)
}

func TestService_UserAddedWhileRunningSeedsSilently(t *testing.T) {
	const otherAddr = "0x2222222222222222222222222222222222222222"
	now := time.Now()
	acts := &fakeActivities{feed: map[string][]domain.Activity{testAddr: nil}}
	eng := newFakeEngine()
	svc := newTestService(t, acts, &fakeMetadata{}, eng, defaultTestConfig())
	ctx := context.Background()

	svc.PollOnce(ctx) // seeds the initial user

	// A user tracked mid-flight brings a backlog; their first cycle is silent.
	old := tradeActivity("b1", 40, now.Add(-time.Hour))
	old.User = otherAddr
	acts.feed[otherAddr] = []domain.Activity{old}
	require.NoError(t, svc.AddUser(otherAddr, "late"))

	svc.PollOnce(ctx)
	assert.Empty(t, eng.orders)

	fresh := tradeActivity("b2", 40, now)
	fresh.User = otherAddr
	acts.feed[otherAddr] = append(acts.feed[otherAddr], fresh)
	svc.PollOnce(ctx)
	require.Len(t, eng.orders, 1)
	assert.Equal(t, "copytrade:"+otherAddr, eng.orders[0].Source)
}

func TestService_UserFailureIsolation(t *testing.T) {
	const otherAddr = "0x2222222222222222222222222222222222222222"
	now := time.Now()
	acts := &fakeActivities{
		feed:   map[string][]domain.Activity{testAddr: nil, otherAddr: nil},
		errFor: map[string]error{testAddr: errors.New("boom")},
	}
	eng := newFakeEngine()
	svc := newTestService(t, acts, &fakeMetadata{}, eng, defaultTestConfig())
	require.NoError(t, svc.AddUser(otherAddr, ""))
	ctx := context.Background()

	svc.PollOnce(ctx) // seeds the healthy user; the failing one stays unseeded

	// The failing user never blocks the healthy one's cycle.
	fresh := tradeActivity("b1", 40, now)
	fresh.User = otherAddr
	acts.feed[otherAddr] = []domain.Activity{fresh}
	svc.PollOnce(ctx)
	require.Len(t, eng.orders, 1)
	assert.Equal(t, "copytrade:"+otherAddr, eng.orders[0].Source)
}

func TestService_Sizing_NoBaseline(t *testing.T) {
	now := time.Now()
	acts := &fakeActivities{feed: map[string][]domain.Activity{testAddr: nil}}
	eng := newFakeEngine()
	svc := newTestService(t, acts, &fakeMetadata{}, eng, defaultTestConfig())
	ctx := context.Background()

	svc.PollOnce(ctx) // empty watermark

	// One trade in the window (itself): 10% of max.
	acts.feed[testAddr] = []domain.Activity{tradeActivity("t1", 500, now)}
	svc.PollOnce(ctx)
	require.Len(t, eng.orders, 1)
	assert.InDelta(t, 10, eng.orders[0].Size, 1e-9)
}

func TestService_Sizing_LowVolume(t *testing.T) {
	now := time.Now()
	acts := &fakeActivities{feed: map[string][]domain.Activity{
		testAddr: {tradeActivity("t0", 5, now.Add(-time.Minute))},
	}}
	eng := newFakeEngine()
	svc := newTestService(t, acts, &fakeMetadata{}, eng, defaultTestConfig())
	ctx := context.Background()

	svc.PollOnce(ctx) // watermark holds t0 (size 5)

	// Baseline 5 < scaling floor 10: 5% of max.
	acts.feed[testAddr] = append(acts.feed[testAddr], tradeActivity("t1", 50, now))
	svc.PollOnce(ctx)
	require.Len(t, eng.orders, 1)
	assert.InDelta(t, 5, eng.orders[0].Size, 1e-9)
}

func TestService_Sizing_ProportionalAndClamped(t *testing.T) {
	now := time.Now()
	acts := &fakeActivities{feed: map[string][]domain.Activity{
		testAddr: {
			tradeActivity("t0", 20, now.Add(-3*time.Minute)),
			tradeActivity("t0b", 30, now.Add(-2*time.Minute)),
		},
	}}
	eng := newFakeEngine()
	svc := newTestService(t, acts, &fakeMetadata{}, eng, defaultTestConfig())
	ctx := context.Background()

	svc.PollOnce(ctx) // watermark volume: 50

	// 25/50 of recent volume: 50% of max.
	acts.feed[testAddr] = append(acts.feed[testAddr], tradeActivity("t1", 25, now.Add(-time.Minute)))
	svc.PollOnce(ctx)
	require.Len(t, eng.orders, 1)
	assert.InDelta(t, 50, eng.orders[0].Size, 1e-9)

	// A trade larger than the whole baseline clamps to max. Its own hash is
	// excluded from the baseline, which still sums to 75.
	acts.feed[testAddr] = append(acts.feed[testAddr], tradeActivity("t2", 400, now))
	svc.PollOnce(ctx)
	require.Len(t, eng.orders, 2)
	assert.InDelta(t, 100, eng.orders[1].Size, 1e-9)
}

func TestService_SellGuard(t *testing.T) {
	now := time.Now()
	sell := tradeActivity("s1", 20, now)
	sell.Side = domain.OrderSideSell

	acts := &fakeActivities{feed: map[string][]domain.Activity{testAddr: nil}}
	eng := newFakeEngine()
	svc := newTestService(t, acts, &fakeMetadata{}, eng, defaultTestConfig())
	ctx := context.Background()

	svc.PollOnce(ctx) // empty watermark

	// No position: the sell is recorded but never sent to the engine.
	acts.feed[testAddr] = []domain.Activity{sell}
	svc.PollOnce(ctx)
	assert.Empty(t, eng.orders)

	detected := svc.Detected(0)
	require.Len(t, detected, 1)
	assert.False(t, detected[0].Executed)
	assert.Equal(t, "no position to sell", detected[0].ExecutionError)

	// Sufficient tokens: the sell mirrors.
	eng.positions["m1"] = domain.Position{MarketID: "m1", YesTokens: 1000}
	sell2 := sell
	sell2.TxHash = "s2"
	sell2.Timestamp = now.Add(time.Second)
	acts.feed[testAddr] = append(acts.feed[testAddr], sell2)
	svc.PollOnce(ctx)
	require.Len(t, eng.orders, 1)
	assert.Equal(t, domain.OrderSideSell, eng.orders[0].Side)
}

func TestService_SellGuard_InsufficientTokens(t *testing.T) {
	now := time.Now()
	sell := tradeActivity("s1", 20, now)
	sell.Side = domain.OrderSideSell

	acts := &fakeActivities{feed: map[string][]domain.Activity{testAddr: nil}}
	eng := newFakeEngine()
	// Copy size 10 at price 0.50 needs 20 tokens; only 5 held.
	eng.positions["m1"] = domain.Position{MarketID: "m1", YesTokens: 5}
	svc := newTestService(t, acts, &fakeMetadata{}, eng, defaultTestConfig())
	ctx := context.Background()

	svc.PollOnce(ctx)
	acts.feed[testAddr] = []domain.Activity{sell}
	svc.PollOnce(ctx)

	assert.Empty(t, eng.orders)
	detected := svc.Detected(0)
	require.Len(t, detected, 1)
	assert.Equal(t, "insufficient tokens for copy sell", detected[0].ExecutionError)
}

func TestService_RejectedCopyRecordsReason(t *testing.T) {
	now := time.Now()
	acts := &fakeActivities{feed: map[string][]domain.Activity{testAddr: nil}}
	eng := newFakeEngine()
	eng.rejectWith = "insufficient balance"
	svc := newTestService(t, acts, &fakeMetadata{}, eng, defaultTestConfig())
	ctx := context.Background()

	svc.PollOnce(ctx)
	acts.feed[testAddr] = []domain.Activity{tradeActivity("t1", 20, now)}
	svc.PollOnce(ctx)

	detected := svc.Detected(0)
	require.Len(t, detected, 1)
	assert.False(t, detected[0].Executed)
	assert.Equal(t, "insufficient balance", detected[0].ExecutionError)
	assert.Nil(t, detected[0].ExecutedAt)
}

func redeemActivity(txHash, marketID string, ts time.Time) domain.Activity {
	return domain.Activity{
		TxHash:    txHash,
		Type:      domain.ActivityRedeem,
		User:      testAddr,
		MarketID:  marketID,
		Timestamp: ts,
	}
}

func TestService_RedeemMirrored(t *testing.T) {
	now := time.Now()
	acts := &fakeActivities{feed: map[string][]domain.Activity{testAddr: nil}}
	meta := &fakeMetadata{meta: map[string]domain.MarketMetadata{
		"m1": {MarketID: "m1", Closed: true, OutcomePrices: [2]float64{0.99, 0.01}},
	}}
	eng := newFakeEngine()
	eng.positions["m1"] = domain.Position{MarketID: "m1", YesTokens: 100}
	svc := newTestService(t, acts, meta, eng, defaultTestConfig())
	ctx := context.Background()

	svc.PollOnce(ctx)
	acts.feed[testAddr] = []domain.Activity{redeemActivity("r1", "m1", now)}
	svc.PollOnce(ctx)

	require.Len(t, eng.redemptions, 1)
	assert.Equal(t, "m1:YES", eng.redemptions[0])
}

func TestService_RedeemSkips(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		meta *fakeMetadata
	}{
		{"metadata fetch fails", &fakeMetadata{err: errors.New("boom")}},
		{"market still open", &fakeMetadata{meta: map[string]domain.MarketMetadata{
			"m1": {MarketID: "m1", Closed: false},
		}}},
		{"indeterminate resolution", &fakeMetadata{meta: map[string]domain.MarketMetadata{
			"m1": {MarketID: "m1", Closed: true, OutcomePrices: [2]float64{0.55, 0.45}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acts := &fakeActivities{feed: map[string][]domain.Activity{testAddr: nil}}
			eng := newFakeEngine()
			eng.positions["m1"] = domain.Position{MarketID: "m1", YesTokens: 100}
			svc := newTestService(t, acts, tt.meta, eng, defaultTestConfig())
			ctx := context.Background()

			svc.PollOnce(ctx)
			acts.feed[testAddr] = []domain.Activity{redeemActivity("r1", "m1", now)}
			svc.PollOnce(ctx)

			assert.Empty(t, eng.redemptions)
		})
	}
}

func TestService_IgnoredActivityTypes(t *testing.T) {
	now := time.Now()
	acts := &fakeActivities{feed: map[string][]domain.Activity{testAddr: nil}}
	eng := newFakeEngine()
	svc := newTestService(t, acts, &fakeMetadata{}, eng, defaultTestConfig())
	ctx := context.Background()

	svc.PollOnce(ctx)

	var feed []domain.Activity
	for i, typ := range []domain.ActivityType{
		domain.ActivitySplit, domain.ActivityMerge, domain.ActivityReward, domain.ActivityConversion,
	} {
		a := tradeActivity(fmt.Sprintf("x%d", i), 20, now)
		a.Type = typ
		feed = append(feed, a)
	}
	acts.feed[testAddr] = feed
	svc.PollOnce(ctx)

	assert.Empty(t, eng.orders)
	assert.Empty(t, svc.Detected(0))
}

func TestService_MalformedTradeSkipped(t *testing.T) {
	now := time.Now()
	acts := &fakeActivities{feed: map[string][]domain.Activity{testAddr: nil}}
	eng := newFakeEngine()
	svc := newTestService(t, acts, &fakeMetadata{}, eng, defaultTestConfig())
	ctx := context.Background()

	svc.PollOnce(ctx)

	bad := tradeActivity("t1", 20, now)
	bad.Price = 0
	acts.feed[testAddr] = []domain.Activity{bad}
	svc.PollOnce(ctx)

	assert.Empty(t, eng.orders)
	assert.Empty(t, svc.Detected(0))
}

func TestService_StartStopLifecycle(t *testing.T) {
	acts := &fakeActivities{feed: map[string][]domain.Activity{}}
	svc := newTestService(t, acts, &fakeMetadata{}, newFakeEngine(), defaultTestConfig())

	assert.ErrorIs(t, svc.Stop(), domain.ErrNotRunning)

	require.NoError(t, svc.Start(context.Background()))
	assert.True(t, svc.Running())
	assert.ErrorIs(t, svc.Start(context.Background()), domain.ErrAlreadyRunning)

	require.NoError(t, svc.Stop())
	assert.False(t, svc.Running())
}

func TestClassifyWinner(t *testing.T) {
	tests := []struct {
		prices [2]float64
		want   domain.Outcome
		ok     bool
	}{
		{[2]float64{0.99, 0.01}, domain.OutcomeYes, true},
		{[2]float64{0.01, 0.99}, domain.OutcomeNo, true},
		{[2]float64{0.91, 0.09}, domain.OutcomeYes, true},
		{[2]float64{0.9, 0.1}, "", false},
		{[2]float64{0.55, 0.45}, "", false},
		{[2]float64{0.95, 0.15}, "", false},
	}
	for _, tt := range tests {
		got, err := classifyWinner(tt.prices)
		if tt.ok {
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		} else {
			assert.ErrorIs(t, err, domain.ErrIndeterminate)
		}
	}
}
