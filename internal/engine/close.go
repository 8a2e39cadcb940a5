package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// ClosePosition synthesizes SELL orders for every non-zero token balance of
// the market's position at the current best bid, falling back to the entry
// price when no bid is available. Realized PnL accumulates
// tokens*(fillPrice-entryPrice) per leg; the position is deleted afterwards.
func (e *Engine) ClosePosition(ctx context.Context, marketID string) (float64, error) {
	e.mu.Lock()
	pos, ok := e.positions[marketID]
	if !ok {
		e.mu.Unlock()
		return 0, fmt.Errorf("engine: close position %s: %w", marketID, domain.ErrNoPosition)
	}
	legs := []struct {
		outcome domain.Outcome
		tokens  float64
		entry   float64
	}{
		{domain.OutcomeYes, pos.YesTokens, pos.YesEntryPrice},
		{domain.OutcomeNo, pos.NoTokens, pos.NoEntryPrice},
	}
	e.mu.Unlock()

	var realized float64
	for _, leg := range legs {
		if leg.tokens <= 0 {
			continue
		}
		price, ok := e.quotes.BestBid(marketID, leg.outcome)
		if !ok {
			price = leg.entry
		}
		fill := e.ExecuteTrade(ctx, domain.TradeOrder{
			MarketID: marketID,
			Outcome:  leg.outcome,
			Side:     domain.OrderSideSell,
			Size:     leg.tokens * price,
			Price:    price,
			Source:   "close",
		})
		if !fill.Filled() {
			return realized, fmt.Errorf("engine: close position %s: %s leg rejected: %s", marketID, leg.outcome, fill.Reason)
		}
		realized += leg.tokens * (fill.Price - leg.entry)
	}

	e.mu.Lock()
	e.realized += realized
	delete(e.positions, marketID)
	e.mu.Unlock()

	e.logger.Info("position closed",
		slog.String("market_id", marketID),
		slog.Float64("realized_pnl", realized),
	)
	e.mirrorAccount(ctx, marketID)
	return realized, nil
}

// CloseAllPositions flattens every open position. One market's failure never
// aborts the others; the first error is returned after all are attempted.
func (e *Engine) CloseAllPositions(ctx context.Context) (float64, error) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.positions))
	for id := range e.positions {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	var total float64
	var firstErr error
	for _, id := range ids {
		realized, err := e.ClosePosition(ctx, id)
		total += realized
		if err != nil {
			e.logger.Warn("close failed during flatten",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return total, firstErr
}

// RedeemPosition settles a resolved market's position at the fixed rule:
// the winning side pays $1 per token, the losing side $0. Settlement
// proceeds are credited, realized PnL sums both legs relative to entry, a
// synthetic TradeRecord is appended, and the position is deleted. Callers
// must only invoke this once resolution is confirmed; it never consults
// live prices.
func (e *Engine) RedeemPosition(ctx context.Context, marketID string, winning domain.Outcome) (domain.Redemption, error) {
	e.mu.Lock()
	pos, ok := e.positions[marketID]
	if !ok {
		e.mu.Unlock()
		return domain.Redemption{}, fmt.Errorf("engine: redeem %s: %w", marketID, domain.ErrNoPosition)
	}

	winTokens := pos.Tokens(winning)
	loseTokens := pos.Tokens(winning.Opposite())
	winEntry := pos.EntryPrice(winning)
	loseEntry := pos.EntryPrice(winning.Opposite())

	proceeds := winTokens * 1.0
	realized := winTokens*(1.0-winEntry) + loseTokens*(0.0-loseEntry)

	e.balance += proceeds
	e.realized += realized
	delete(e.positions, marketID)

	rec := domain.TradeRecord{
		ID:        uuid.New().String(),
		MarketID:  marketID,
		Outcome:   winning,
		Side:      domain.OrderSideSell,
		Price:     1.0,
		Size:      proceeds,
		Tokens:    winTokens,
		Source:    "redemption",
		Timestamp: e.now(),
	}
	e.appendRecordLocked(rec)
	e.mu.Unlock()

	red := domain.Redemption{
		MarketID:       marketID,
		WinningOutcome: winning,
		Proceeds:       proceeds,
		RealizedPnL:    realized,
		RedeemedAt:     rec.Timestamp,
	}

	e.logger.Info("position redeemed",
		slog.String("market_id", marketID),
		slog.String("winning_outcome", string(winning)),
		slog.Float64("proceeds", proceeds),
		slog.Float64("realized_pnl", realized),
	)

	e.mirror(ctx, rec, nil)
	if e.opts.Bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"event":           "position_redeemed",
			"market_id":       marketID,
			"winning_outcome": string(winning),
			"proceeds":        proceeds,
			"realized_pnl":    realized,
		})
		if err := e.opts.Bus.Publish(ctx, "positions", payload); err != nil {
			e.logger.Warn("redemption publish failed", slog.String("error", err.Error()))
		}
	}
	return red, nil
}

// mirrorAccount pushes the balance/realized accumulator and a position
// deletion to the persistence collaborator, best-effort.
func (e *Engine) mirrorAccount(ctx context.Context, deletedMarketID string) {
	if e.opts.Positions != nil && deletedMarketID != "" {
		if err := e.opts.Positions.Delete(ctx, deletedMarketID); err != nil {
			e.logger.Warn("position delete persist failed",
				slog.String("market_id", deletedMarketID),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.opts.Account != nil {
		e.mu.Lock()
		bal, realized := e.balance, e.realized
		e.mu.Unlock()
		if err := e.opts.Account.Save(ctx, bal, realized); err != nil {
			e.logger.Warn("account persist failed", slog.String("error", err.Error()))
		}
	}
}
