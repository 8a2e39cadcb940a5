package domain

import "time"

// Outcome is one of the two binary resolution sides of a market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Opposite returns the other side of a binary market.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// Quote holds the latest best bid/ask for one outcome of a market. Bid and
// Ask are nil while the corresponding book side has never been seen; an
// empty book side never yields a default price.
type Quote struct {
	Bid        *float64  `json:"bid"`
	Ask        *float64  `json:"ask"`
	LastUpdate time.Time `json:"last_update"`
}

// MarketData is the authoritative latest view of one market: at most one
// YES and one NO quote, plus the market-level freshness state.
type MarketData struct {
	MarketID    string    `json:"market_id"`
	ConditionID string    `json:"condition_id"`
	Yes         Quote     `json:"yes"`
	No          Quote     `json:"no"`
	LastUpdate  time.Time `json:"last_update"`
	IsStale     bool      `json:"is_stale"`
}

// YesAsk returns the YES ask and whether it is present.
func (m MarketData) YesAsk() (float64, bool) {
	if m.Yes.Ask == nil {
		return 0, false
	}
	return *m.Yes.Ask, true
}

// NoAsk returns the NO ask and whether it is present.
func (m MarketData) NoAsk() (float64, bool) {
	if m.No.Ask == nil {
		return 0, false
	}
	return *m.No.Ask, true
}

// PriceLevel is a single price+size entry in an orderbook side.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookUpdate is a normalized order-book update for one outcome of a market,
// produced by the feed adapter.
type BookUpdate struct {
	MarketID    string       `json:"market_id"`
	ConditionID string       `json:"condition_id"`
	AssetID     string       `json:"asset_id"`
	Outcome     Outcome      `json:"outcome"`
	Bids        []PriceLevel `json:"bids"`
	Asks        []PriceLevel `json:"asks"`
	Timestamp   time.Time    `json:"timestamp"`
}

// BestBid returns the highest bid in the update, or nil when the bid side
// is empty.
func (u BookUpdate) BestBid() *float64 {
	var best *float64
	for i := range u.Bids {
		if best == nil || u.Bids[i].Price > *best {
			p := u.Bids[i].Price
			best = &p
		}
	}
	return best
}

// BestAsk returns the lowest ask in the update, or nil when the ask side
// is empty.
func (u BookUpdate) BestAsk() *float64 {
	var best *float64
	for i := range u.Asks {
		if best == nil || u.Asks[i].Price < *best {
			p := u.Asks[i].Price
			best = &p
		}
	}
	return best
}

// MarketMetadata is the resolution-relevant slice of a market's Gamma
// metadata: whether it is closed and the final outcome prices, indexed
// [yes, no].
type MarketMetadata struct {
	MarketID      string     `json:"market_id"`
	Closed        bool       `json:"closed"`
	OutcomePrices [2]float64 `json:"outcome_prices"`
	FetchedAt     time.Time  `json:"fetched_at"`
}
