package domain

import "time"

// ArbitrageOpportunity is a point-in-time snapshot of a market whose two-leg
// cost is below guaranteed settlement after fees and margin. It is never
// re-validated in place; CreateExecutionPlan re-checks live prices.
type ArbitrageOpportunity struct {
	ID              string    `json:"id"`
	MarketID        string    `json:"market_id"`
	ConditionID     string    `json:"condition_id,omitempty"`
	YesAsk          float64   `json:"yes_ask"`
	NoAsk           float64   `json:"no_ask"`
	TotalCost       float64   `json:"total_cost"`
	ProfitMargin    float64   `json:"profit_margin"`
	ProfitAfterFees float64   `json:"profit_after_fees"`
	DetectedAt      time.Time `json:"detected_at"`
}

// ExecutionPlan is a two-leg buy plan built from an opportunity, sized
// proportionally to profit and re-validated against live prices at creation.
type ExecutionPlan struct {
	Opportunity ArbitrageOpportunity `json:"opportunity"`
	YesPrice    float64              `json:"yes_price"`
	NoPrice     float64              `json:"no_price"`
	YesSize     float64              `json:"yes_size"`
	NoSize      float64              `json:"no_size"`
	TotalCost   float64              `json:"total_cost"`
	CreatedAt   time.Time            `json:"created_at"`
}
