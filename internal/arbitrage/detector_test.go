package arbitrage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

func defaultConfig() Config {
	return Config{
		MinProfitThreshold: 0.01,
		FeeBuffer:          0.02,
		SafetyMargin:       0.005,
		MaxPositionSize:    100,
	}
}

func marketWithAsks(id string, yesAsk, noAsk float64) domain.MarketData {
	now := time.Now()
	return domain.MarketData{
		MarketID:   id,
		Yes:        domain.Quote{Ask: &yesAsk, LastUpdate: now},
		No:         domain.Quote{Ask: &noAsk, LastUpdate: now},
		LastUpdate: now,
	}
}

// staticReader serves fixed market snapshots for plan re-validation.
type staticReader map[string]domain.MarketData

func (r staticReader) Market(id string) (domain.MarketData, bool) {
	m, ok := r[id]
	return m, ok
}

func TestDetector_DetectArbitrage(t *testing.T) {
	d := NewDetector(defaultConfig())

	opp, ok := d.DetectArbitrage(marketWithAsks("m1", 0.45, 0.50))
	require.True(t, ok)
	assert.Equal(t, "m1", opp.MarketID)
	assert.InDelta(t, 0.95, opp.TotalCost, 1e-9)
	assert.InDelta(t, 0.05, opp.ProfitMargin, 1e-9)
	assert.InDelta(t, 0.03, opp.ProfitAfterFees, 1e-9)
	assert.NotEmpty(t, opp.ID)
}

func TestDetector_DetectArbitrage_Rejections(t *testing.T) {
	d := NewDetector(defaultConfig())

	tests := []struct {
		name   string
		market domain.MarketData
	}{
		{"cost above required", marketWithAsks("m1", 0.50, 0.49)},
		// Cost 0.972 clears the buffer gate but nets only 0.008 after fees.
		{"profit below threshold", marketWithAsks("m1", 0.48, 0.492)},
		{"zero ask", marketWithAsks("m1", 0, 0.50)},
		{"missing no ask", func() domain.MarketData {
			m := marketWithAsks("m1", 0.45, 0.50)
			m.No.Ask = nil
			return m
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := d.DetectArbitrage(tt.market)
			assert.False(t, ok)
		})
	}
}

func TestDetector_ScanOpportunities_RanksByProfit(t *testing.T) {
	d := NewDetector(defaultConfig())

	markets := []domain.MarketData{
		marketWithAsks("small", 0.47, 0.49), // pAF 0.02
		marketWithAsks("big", 0.40, 0.45),   // pAF 0.13
		marketWithAsks("none", 0.50, 0.50),  // no edge
	}

	opps := d.ScanOpportunities(markets, nil)
	require.Len(t, opps, 2)
	assert.Equal(t, "big", opps[0].MarketID)
	assert.Equal(t, "small", opps[1].MarketID)
}

func TestDetector_ScanOpportunities_SkipsTrackedAndStale(t *testing.T) {
	d := NewDetector(defaultConfig())

	stale := marketWithAsks("stale", 0.40, 0.45)
	stale.IsStale = true

	markets := []domain.MarketData{
		marketWithAsks("held", 0.40, 0.45),
		marketWithAsks("open", 0.45, 0.50),
		stale,
	}

	opps := d.ScanOpportunities(markets, func(id string) bool { return id == "held" })
	require.Len(t, opps, 1)
	assert.Equal(t, "open", opps[0].MarketID)
}

func TestDetector_CreateExecutionPlan_CappedSizing(t *testing.T) {
	d := NewDetector(defaultConfig())
	m := marketWithAsks("m1", 0.45, 0.50)

	opp, ok := d.DetectArbitrage(m)
	require.True(t, ok)

	plan := d.CreateExecutionPlan(opp, staticReader{"m1": m})
	require.NotNil(t, plan)
	// pAF/threshold = 3x, so size is capped at the max and split evenly.
	assert.InDelta(t, 100, plan.TotalCost, 1e-9)
	assert.InDelta(t, 50, plan.YesSize, 1e-9)
	assert.InDelta(t, 50, plan.NoSize, 1e-9)
	assert.Equal(t, 0.45, plan.YesPrice)
	assert.Equal(t, 0.50, plan.NoPrice)
}

func TestDetector_CreateExecutionPlan_UsesLivePrices(t *testing.T) {
	d := NewDetector(defaultConfig())

	opp, ok := d.DetectArbitrage(marketWithAsks("m1", 0.45, 0.50))
	require.True(t, ok)

	// Prices shifted but the edge survived: the plan must carry the live
	// asks, not the ones captured at detection time.
	live := staticReader{"m1": marketWithAsks("m1", 0.46, 0.50)}
	plan := d.CreateExecutionPlan(opp, live)
	require.NotNil(t, plan)
	assert.Equal(t, 0.46, plan.YesPrice)
	assert.InDelta(t, 0.96, plan.Opportunity.TotalCost, 1e-9)
}

func TestDetector_CreateExecutionPlan_InvalidatedByLivePrices(t *testing.T) {
	d := NewDetector(defaultConfig())

	opp, ok := d.DetectArbitrage(marketWithAsks("m1", 0.45, 0.50))
	require.True(t, ok)

	// Prices moved: the edge is gone by execution time.
	moved := staticReader{"m1": marketWithAsks("m1", 0.52, 0.50)}
	assert.Nil(t, d.CreateExecutionPlan(opp, moved))

	// Market disappeared entirely.
	assert.Nil(t, d.CreateExecutionPlan(opp, staticReader{}))
}
