package domain

import "time"

// Position tracks held outcome tokens for one market. Entry prices are
// running weighted averages recomputed on every buy; TotalEntryCost always
// equals yesTokens*yesEntry + noTokens*noEntry. Current prices and
// UnrealizedPnL are filled in lazily on read from the latest store prices
// and are nil when no price is available.
type Position struct {
	MarketID       string     `json:"market_id"`
	ConditionID    string     `json:"condition_id,omitempty"`
	YesTokens      float64    `json:"yes_tokens"`
	NoTokens       float64    `json:"no_tokens"`
	YesEntryPrice  float64    `json:"yes_entry_price"`
	NoEntryPrice   float64    `json:"no_entry_price"`
	YesCurrent     *float64   `json:"yes_current_price"`
	NoCurrent      *float64   `json:"no_current_price"`
	UnrealizedPnL  *float64   `json:"unrealized_pnl"`
	TotalEntryCost float64    `json:"total_entry_cost"`
	OpenedAt       time.Time  `json:"opened_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Tokens returns the token balance for the given outcome.
func (p Position) Tokens(o Outcome) float64 {
	if o == OutcomeYes {
		return p.YesTokens
	}
	return p.NoTokens
}

// EntryPrice returns the weighted-average entry price for the given outcome.
func (p Position) EntryPrice(o Outcome) float64 {
	if o == OutcomeYes {
		return p.YesEntryPrice
	}
	return p.NoEntryPrice
}

// Empty reports whether the position holds no tokens on either side.
func (p Position) Empty() bool {
	return p.YesTokens <= 0 && p.NoTokens <= 0
}
