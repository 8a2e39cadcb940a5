package domain

import "time"

// ActivityType is the closed set of activity kinds the data API reports for
// an address. Dispatch over this type must be exhaustive so that ignored
// kinds are a reviewed branch, not a silent default.
type ActivityType string

const (
	ActivityTrade      ActivityType = "TRADE"
	ActivitySplit      ActivityType = "SPLIT"
	ActivityMerge      ActivityType = "MERGE"
	ActivityRedeem     ActivityType = "REDEEM"
	ActivityReward     ActivityType = "REWARD"
	ActivityConversion ActivityType = "CONVERSION"
)

// ParseActivityType maps a raw API type tag onto the closed enum. Unknown
// or empty tags are treated as TRADE, matching the feed's untyped legacy
// entries.
func ParseActivityType(raw string) ActivityType {
	switch ActivityType(raw) {
	case ActivitySplit, ActivityMerge, ActivityRedeem, ActivityReward, ActivityConversion:
		return ActivityType(raw)
	default:
		return ActivityTrade
	}
}

// Activity is one normalized entry from a tracked address's activity feed,
// uniquely identified by its transaction hash.
type Activity struct {
	TxHash       string       `json:"tx_hash"`
	Type         ActivityType `json:"type"`
	User         string       `json:"user"`
	MarketID     string       `json:"market_id"`
	AssetID      string       `json:"asset_id,omitempty"`
	Outcome      Outcome      `json:"outcome"`
	OutcomeIndex int          `json:"outcome_index"`
	Side         OrderSide    `json:"side"`
	Price        float64      `json:"price"`
	USDSize      float64      `json:"usd_size"`
	Tokens       float64      `json:"tokens"`
	Timestamp    time.Time    `json:"timestamp"`
}
