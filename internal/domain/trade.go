package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// TradeOrder is a request submitted to the paper execution engine. Size is
// USD notional. A zero Price makes it a market order filled at the store's
// best ask (BUY) or best bid (SELL); a positive Price fills at that limit.
type TradeOrder struct {
	MarketID string    `json:"market_id"`
	Outcome  Outcome   `json:"outcome"`
	Side     OrderSide `json:"side"`
	Size     float64   `json:"size"`
	Price    float64   `json:"price,omitempty"`
	Source   string    `json:"source,omitempty"` // "arbitrage", "copytrade", "manual"
}

// FillStatus is the terminal state of an order submission.
type FillStatus string

const (
	FillStatusFilled   FillStatus = "filled"
	FillStatusRejected FillStatus = "rejected"
)

// Fill is the typed result of ExecuteTrade. Rejections carry a Reason and
// mutate no engine state; they are results, never errors.
type Fill struct {
	Status FillStatus `json:"status"`
	Price  float64    `json:"price,omitempty"`
	Tokens float64    `json:"tokens,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

// Filled reports whether the order filled.
func (f Fill) Filled() bool { return f.Status == FillStatusFilled }

// TradeRecord is one immutable entry in the engine's append-only trade log.
type TradeRecord struct {
	ID        string    `json:"id"`
	MarketID  string    `json:"market_id"`
	Outcome   Outcome   `json:"outcome"`
	Side      OrderSide `json:"side"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`   // USD notional
	Tokens    float64   `json:"tokens"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Redemption is the settlement result of redeeming a resolved market's
// position at the fixed $1 winner / $0 loser rule.
type Redemption struct {
	MarketID       string    `json:"market_id"`
	WinningOutcome Outcome   `json:"winning_outcome"`
	Proceeds       float64   `json:"proceeds"`
	RealizedPnL    float64   `json:"realized_pnl"`
	RedeemedAt     time.Time `json:"redeemed_at"`
}
