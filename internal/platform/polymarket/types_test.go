package polymarket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

func TestFlexBool_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"native true", `true`, true},
		{"native false", `false`, false},
		{"string true", `"true"`, true},
		{"string True", `"True"`, true},
		{"string one", `"1"`, true},
		{"string false", `"false"`, false},
		{"empty string", `""`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f flexBool
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &f))
			assert.Equal(t, tt.want, bool(f))
		})
	}

	var f flexBool
	assert.Error(t, json.Unmarshal([]byte(`42`), &f))
}

func TestAPIMarket_ToDomainMetadata(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	m := APIMarket{
		ID:            "cond-1",
		Closed:        true,
		OutcomePrices: `["0.97", "0.03"]`,
	}
	meta := m.ToDomainMetadata(now)

	assert.Equal(t, "cond-1", meta.MarketID)
	assert.True(t, meta.Closed)
	assert.Equal(t, now, meta.FetchedAt)
	assert.InDelta(t, 0.97, meta.OutcomePrices[0], 1e-9)
	assert.InDelta(t, 0.03, meta.OutcomePrices[1], 1e-9)
}

func TestAPIMarket_ToDomainMetadata_MalformedPrices(t *testing.T) {
	now := time.Now()

	// Prices that fail to decode leave zero values rather than erroring.
	for _, raw := range []string{``, `not json`, `["abc","def"]`} {
		m := APIMarket{ID: "cond-1", OutcomePrices: raw}
		meta := m.ToDomainMetadata(now)
		assert.Zero(t, meta.OutcomePrices[0], "raw=%q", raw)
		assert.Zero(t, meta.OutcomePrices[1], "raw=%q", raw)
	}

	// Extra entries beyond the binary pair are dropped.
	m := APIMarket{ID: "cond-1", OutcomePrices: `["0.5","0.3","0.2"]`}
	meta := m.ToDomainMetadata(now)
	assert.InDelta(t, 0.5, meta.OutcomePrices[0], 1e-9)
	assert.InDelta(t, 0.3, meta.OutcomePrices[1], 1e-9)
}

func TestAPIActivity_ToDomainActivity(t *testing.T) {
	a := APIActivity{
		ProxyWallet:     "0xAbCd000000000000000000000000000000000001",
		Timestamp:       1756400000,
		ConditionID:     "cond-9",
		Type:            "TRADE",
		Size:            40,
		USDCSize:        20,
		TransactionHash: "0xtx1",
		Price:           0.5,
		Asset:           "asset-1",
		Side:            "buy",
		OutcomeIndex:    0,
	}
	act := a.ToDomainActivity()

	assert.Equal(t, "0xtx1", act.TxHash)
	assert.Equal(t, domain.ActivityTrade, act.Type)
	assert.Equal(t, "0xabcd000000000000000000000000000000000001", act.User)
	assert.Equal(t, "cond-9", act.MarketID)
	assert.Equal(t, "asset-1", act.AssetID)
	assert.Equal(t, domain.OutcomeYes, act.Outcome)
	assert.Equal(t, domain.OrderSideBuy, act.Side)
	assert.InDelta(t, 0.5, act.Price, 1e-9)
	assert.InDelta(t, 20.0, act.USDSize, 1e-9)
	assert.InDelta(t, 40.0, act.Tokens, 1e-9)
	assert.Equal(t, time.Unix(1756400000, 0).UTC(), act.Timestamp)
}

func TestAPIActivity_ToDomainActivity_Mappings(t *testing.T) {
	sell := APIActivity{Side: "SELL", OutcomeIndex: 1, Type: "REDEEM"}
	act := sell.ToDomainActivity()
	assert.Equal(t, domain.OrderSideSell, act.Side)
	assert.Equal(t, domain.OutcomeNo, act.Outcome)
	assert.Equal(t, domain.ActivityRedeem, act.Type)

	// Unknown type strings normalize to TRADE.
	unknown := APIActivity{Type: "AIRDROP"}
	assert.Equal(t, domain.ActivityTrade, unknown.ToDomainActivity().Type)
}

func TestBookToDomainUpdate(t *testing.T) {
	msg := BookMessage{
		EventType: "book",
		AssetID:   "asset-1",
		Market:    "cond-1",
		Bids: []WSPriceLevel{
			{Price: "0.44", Size: "100"},
			{Price: "bad", Size: "100"},
			{Price: "0.45", Size: "oops"},
		},
		Asks: []WSPriceLevel{
			{Price: "0.47", Size: "50"},
		},
		Timestamp: "1756400000000",
	}
	upd := BookToDomainUpdate(&msg)

	assert.Equal(t, "cond-1", upd.ConditionID)
	assert.Equal(t, "asset-1", upd.AssetID)
	require.Len(t, upd.Bids, 1)
	assert.InDelta(t, 0.44, upd.Bids[0].Price, 1e-9)
	assert.InDelta(t, 100.0, upd.Bids[0].Size, 1e-9)
	require.Len(t, upd.Asks, 1)
	assert.InDelta(t, 0.47, upd.Asks[0].Price, 1e-9)
	assert.Equal(t, time.UnixMilli(1756400000000), upd.Timestamp)
}

func TestBookToDomainUpdate_Timestamps(t *testing.T) {
	rfc := BookMessage{Timestamp: "2026-08-01T12:00:00Z"}
	upd := BookToDomainUpdate(&rfc)
	assert.Equal(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), upd.Timestamp)

	before := time.Now()
	garbage := BookToDomainUpdate(&BookMessage{Timestamp: "???"})
	assert.False(t, garbage.Timestamp.Before(before))
}
