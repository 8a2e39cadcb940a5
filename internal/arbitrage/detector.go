// Package arbitrage detects risk-free two-leg price dislocations and turns
// them into sized execution plans.
package arbitrage

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// Config holds the detector's decision thresholds.
type Config struct {
	MinProfitThreshold float64
	FeeBuffer          float64
	SafetyMargin       float64
	MaxPositionSize    float64
}

// MarketReader is the live-price view the detector needs when building
// execution plans.
type MarketReader interface {
	Market(marketID string) (domain.MarketData, bool)
}

// Detector is the pure decision core: no I/O, no clocks beyond timestamps,
// no shared state.
type Detector struct {
	cfg Config
	now func() time.Time
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg, now: time.Now}
}

// DetectArbitrage evaluates a single market. Both asks must be present and
// positive; the combined cost must clear the fee buffer plus safety margin,
// and the profit net of fees must meet the minimum threshold.
func (d *Detector) DetectArbitrage(m domain.MarketData) (domain.ArbitrageOpportunity, bool) {
	yesAsk, okYes := m.YesAsk()
	noAsk, okNo := m.NoAsk()
	if !okYes || !okNo || yesAsk <= 0 || noAsk <= 0 {
		return domain.ArbitrageOpportunity{}, false
	}

	totalCost := yesAsk + noAsk
	required := 1 - d.cfg.FeeBuffer - d.cfg.SafetyMargin
	if totalCost >= required {
		return domain.ArbitrageOpportunity{}, false
	}

	profitMargin := 1 - totalCost
	profitAfterFees := profitMargin - d.cfg.FeeBuffer
	if profitAfterFees < d.cfg.MinProfitThreshold {
		return domain.ArbitrageOpportunity{}, false
	}

	return domain.ArbitrageOpportunity{
		ID:              uuid.New().String(),
		MarketID:        m.MarketID,
		ConditionID:     m.ConditionID,
		YesAsk:          yesAsk,
		NoAsk:           noAsk,
		TotalCost:       totalCost,
		ProfitMargin:    profitMargin,
		ProfitAfterFees: profitAfterFees,
		DetectedAt:      d.now(),
	}, true
}

// ScanOpportunities evaluates every non-stale, non-tracked market and ranks
// the results descending by profit after fees. The sort is stable: ties keep
// discovery order.
func (d *Detector) ScanOpportunities(markets []domain.MarketData, tracked func(marketID string) bool) []domain.ArbitrageOpportunity {
	var opps []domain.ArbitrageOpportunity
	for _, m := range markets {
		if m.IsStale {
			continue
		}
		if tracked != nil && tracked(m.MarketID) {
			continue
		}
		if opp, ok := d.DetectArbitrage(m); ok {
			opps = append(opps, opp)
		}
	}
	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].ProfitAfterFees > opps[j].ProfitAfterFees
	})
	return opps
}

// CreateExecutionPlan sizes a two-leg buy plan for the opportunity. Total
// size is proportional to profit and capped at MaxPositionSize, split 50/50
// across the legs. Live prices are re-read; if the market's current profit
// after fees has dropped below the minimum threshold the plan is nil, which
// guards against stale decisions between detection and execution.
func (d *Detector) CreateExecutionPlan(opp domain.ArbitrageOpportunity, live MarketReader) *domain.ExecutionPlan {
	m, ok := live.Market(opp.MarketID)
	if !ok {
		return nil
	}
	current, ok := d.DetectArbitrage(m)
	if !ok || current.ProfitAfterFees < d.cfg.MinProfitThreshold {
		return nil
	}

	totalSize := d.cfg.MaxPositionSize
	if d.cfg.MinProfitThreshold > 0 {
		proportional := d.cfg.MaxPositionSize * current.ProfitAfterFees / d.cfg.MinProfitThreshold
		if proportional < totalSize {
			totalSize = proportional
		}
	}

	half := totalSize / 2
	return &domain.ExecutionPlan{
		Opportunity: current,
		YesPrice:    current.YesAsk,
		NoPrice:     current.NoAsk,
		YesSize:     half,
		NoSize:      half,
		TotalCost:   totalSize,
		CreatedAt:   d.now(),
	}
}
