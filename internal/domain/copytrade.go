package domain

import "time"

// TrackedUser is an external address whose trades are mirrored.
type TrackedUser struct {
	Address string    `json:"address"`
	Label   string    `json:"label,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// DetectedTrade records the copy-trading outcome for one unique transaction
// hash. Executed transitions false->true monotonically; ExecutionError is
// set at most once and is immutable thereafter.
type DetectedTrade struct {
	TxHash         string     `json:"tx_hash"`
	User           string     `json:"user"`
	MarketID       string     `json:"market_id"`
	Type           ActivityType `json:"type"`
	Outcome        Outcome    `json:"outcome"`
	Side           OrderSide  `json:"side"`
	SourcePrice    float64    `json:"source_price"`
	SourceSize     float64    `json:"source_size"`
	CopySize       float64    `json:"copy_size"`
	Executed       bool       `json:"executed"`
	ExecutionError string     `json:"execution_error,omitempty"`
	DetectedAt     time.Time  `json:"detected_at"`
	ExecutedAt     *time.Time `json:"executed_at,omitempty"`
}
