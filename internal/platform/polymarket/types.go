package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "closed" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
// Only the fields resolution tracking needs are mapped.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"conditionId"`
	Closed        flexBool `json:"closed"`
	Outcomes      string   `json:"outcomes"`      // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	OutcomePrices string   `json:"outcomePrices"` // JSON-encoded: e.g. "[\"0.9\",\"0.1\"]"
	ClobTokenIDs  string   `json:"clobTokenIds"`  // JSON-encoded: e.g. "[\"123\",\"456\"]"
}

// ToDomainMetadata converts an APIMarket to resolution metadata. The Gamma
// API double-encodes outcome prices as a JSON string of string numbers.
func (m *APIMarket) ToDomainMetadata(now time.Time) domain.MarketMetadata {
	meta := domain.MarketMetadata{
		MarketID:  m.ID,
		Closed:    bool(m.Closed),
		FetchedAt: now,
	}
	var raw []string
	if err := json.Unmarshal([]byte(m.OutcomePrices), &raw); err == nil {
		for i := 0; i < len(raw) && i < 2; i++ {
			if p, err := strconv.ParseFloat(raw[i], 64); err == nil {
				meta.OutcomePrices[i] = p
			}
		}
	}
	return meta
}

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APIActivity represents one entry of a wallet's on-chain activity feed as
// returned by the Polymarket Data API.
type APIActivity struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Timestamp       int64   `json:"timestamp"`
	ConditionID     string  `json:"conditionId"`
	Type            string  `json:"type"` // "TRADE", "SPLIT", "MERGE", "REDEEM", "REWARD", "CONVERSION"
	Size            float64 `json:"size"`
	USDCSize        float64 `json:"usdcSize"`
	TransactionHash string  `json:"transactionHash"`
	Price           float64 `json:"price"`
	Asset           string  `json:"asset"`
	Side            string  `json:"side"` // "BUY" or "SELL"
	Outcome         string  `json:"outcome"`
	OutcomeIndex    int     `json:"outcomeIndex"`
}

// ToDomainActivity converts an APIActivity to a domain.Activity. Unknown
// activity type strings normalize to TRADE; outcome index 0 maps to YES.
func (a *APIActivity) ToDomainActivity() domain.Activity {
	act := domain.Activity{
		TxHash:       a.TransactionHash,
		Type:         domain.ParseActivityType(a.Type),
		User:         strings.ToLower(a.ProxyWallet),
		MarketID:     a.ConditionID,
		AssetID:      a.Asset,
		OutcomeIndex: a.OutcomeIndex,
		Price:        a.Price,
		USDSize:      a.USDCSize,
		Tokens:       a.Size,
		Timestamp:    time.Unix(a.Timestamp, 0).UTC(),
	}
	if a.OutcomeIndex == 0 {
		act.Outcome = domain.OutcomeYes
	} else {
		act.Outcome = domain.OutcomeNo
	}
	if strings.EqualFold(a.Side, "SELL") {
		act.Side = domain.OrderSideSell
	} else {
		act.Side = domain.OrderSideBuy
	}
	return act
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// BookMessage represents a full orderbook snapshot delivered over WebSocket.
type BookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// WSCommand is the JSON payload sent to the WebSocket to subscribe/unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// BookToDomainUpdate converts a BookMessage into a partially-filled
// domain.BookUpdate: market id and outcome are assigned by the feed from its
// asset subscription table.
func BookToDomainUpdate(b *BookMessage) domain.BookUpdate {
	upd := domain.BookUpdate{
		ConditionID: b.Market,
		AssetID:     b.AssetID,
	}

	for _, lvl := range b.Bids {
		p, err1 := strconv.ParseFloat(lvl.Price, 64)
		s, err2 := strconv.ParseFloat(lvl.Size, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		upd.Bids = append(upd.Bids, domain.PriceLevel{Price: p, Size: s})
	}
	for _, lvl := range b.Asks {
		p, err1 := strconv.ParseFloat(lvl.Price, 64)
		s, err2 := strconv.ParseFloat(lvl.Size, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		upd.Asks = append(upd.Asks, domain.PriceLevel{Price: p, Size: s})
	}

	if ms, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil {
		upd.Timestamp = time.UnixMilli(ms)
	} else if t, err := time.Parse(time.RFC3339, b.Timestamp); err == nil {
		upd.Timestamp = t
	} else {
		upd.Timestamp = time.Now()
	}

	return upd
}
