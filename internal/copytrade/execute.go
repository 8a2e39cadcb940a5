package copytrade

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// handleTrade sizes and mirrors a source trade. Copy orders are limit orders
// at the source price so they fill deterministically even for markets the
// live feed is not subscribed to.
func (s *Service) handleTrade(ctx context.Context, addr string, act domain.Activity) {
	if act.Price <= 0 || act.USDSize <= 0 {
		s.logger.Debug("skipping malformed trade activity",
			slog.String("tx_hash", act.TxHash),
			slog.Float64("price", act.Price),
			slog.Float64("usd_size", act.USDSize),
		)
		return
	}

	copySize := s.sizeFor(addr, act)

	dt := domain.DetectedTrade{
		TxHash:      act.TxHash,
		User:        addr,
		MarketID:    act.MarketID,
		Type:        act.Type,
		Outcome:     act.Outcome,
		Side:        act.Side,
		SourcePrice: act.Price,
		SourceSize:  act.USDSize,
		CopySize:    copySize,
		DetectedAt:  s.now(),
	}
	s.recordDetected(ctx, dt)

	if act.Side == domain.OrderSideSell {
		if reason, ok := s.sellGuard(act, copySize); !ok {
			s.markOutcome(ctx, dt.TxHash, false, reason)
			s.logger.Info("copy sell skipped",
				slog.String("tx_hash", act.TxHash),
				slog.String("market_id", act.MarketID),
				slog.String("reason", reason),
			)
			return
		}
	}

	order := domain.TradeOrder{
		MarketID: act.MarketID,
		Outcome:  act.Outcome,
		Side:     act.Side,
		Size:     copySize,
		Price:    act.Price,
		Source:   "copytrade:" + addr,
	}
	fill := s.engine.ExecuteTrade(ctx, order)
	if fill.Filled() {
		s.markOutcome(ctx, dt.TxHash, true, "")
		s.logger.Info("copy trade executed",
			slog.String("tx_hash", act.TxHash),
			slog.String("market_id", act.MarketID),
			slog.String("side", string(act.Side)),
			slog.Float64("source_size", act.USDSize),
			slog.Float64("copy_size", copySize),
			slog.Float64("price", fill.Price),
		)
	} else {
		s.markOutcome(ctx, dt.TxHash, false, fill.Reason)
		s.logger.Warn("copy trade rejected",
			slog.String("tx_hash", act.TxHash),
			slog.String("market_id", act.MarketID),
			slog.String("reason", fill.Reason),
		)
	}
}

// sellGuard checks that the paper account actually holds enough of the
// outcome before mirroring a sell. Copying a sell of tokens never bought
// would fabricate inventory.
func (s *Service) sellGuard(act domain.Activity, copySize float64) (string, bool) {
	pos, ok := s.engine.Position(act.MarketID)
	if !ok {
		return "no position to sell", false
	}
	needed := copySize / act.Price
	if pos.Tokens(act.Outcome) < needed {
		return "insufficient tokens for copy sell", false
	}
	return "", true
}

// sizeFor computes the proportional copy size for a source trade.
//
// Fewer than two window entries means no volume baseline, so a conservative
// 10% of the maximum applies. A baseline below the scaling floor gets 5%.
// Otherwise the copy scales with the trade's share of the user's recent
// volume, clamped to [min, max]. The triggering trade's own hash is excluded
// from the baseline so a single large trade cannot dilute itself.
func (s *Service) sizeFor(addr string, act domain.Activity) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	minSize := s.cfg.MinTradeSize
	maxSize := s.cfg.MaxTradeSize

	w, ok := s.windows[addr]
	if !ok || w.Len() < 2 {
		return maxFloat(minSize, 0.10*maxSize)
	}
	volume := w.Volume(act.TxHash)
	if volume < s.cfg.MinVolumeForScaling {
		return maxFloat(minSize, 0.05*maxSize)
	}
	size := maxSize * (act.USDSize / volume)
	if size < minSize {
		return minSize
	}
	if size > maxSize {
		return maxSize
	}
	return size
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// handleRedeem mirrors a source redemption: resolve the market's winner from
// cached metadata and redeem any held position. Indeterminate resolutions are
// skipped and, because the hash is already seen, never retried.
func (s *Service) handleRedeem(ctx context.Context, addr string, act domain.Activity) {
	meta, err := s.marketMetadata(ctx, act.MarketID)
	if err != nil {
		s.logger.Warn("redemption metadata fetch failed",
			slog.String("tx_hash", act.TxHash),
			slog.String("market_id", act.MarketID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !meta.Closed {
		s.logger.Debug("redemption on open market, skipping",
			slog.String("market_id", act.MarketID),
		)
		return
	}

	winner, err := classifyWinner(meta.OutcomePrices)
	if err != nil {
		s.logger.Warn("indeterminate market resolution, skipping redemption",
			slog.String("market_id", act.MarketID),
			slog.Float64("price_0", meta.OutcomePrices[0]),
			slog.Float64("price_1", meta.OutcomePrices[1]),
		)
		return
	}

	red, err := s.engine.RedeemPosition(ctx, act.MarketID, winner)
	if err != nil {
		if errors.Is(err, domain.ErrNoPosition) {
			s.logger.Debug("no position to redeem",
				slog.String("market_id", act.MarketID),
			)
			return
		}
		s.logger.Warn("copy redemption failed",
			slog.String("market_id", act.MarketID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("copy redemption executed",
		slog.String("tx_hash", act.TxHash),
		slog.String("market_id", act.MarketID),
		slog.String("winning_outcome", string(winner)),
		slog.Float64("proceeds", red.Proceeds),
		slog.Float64("realized_pnl", red.RealizedPnL),
	)
}

// classifyWinner maps resolved outcome prices to the winning outcome.
// A winner requires one side above 0.9 and the other below 0.1; anything
// else is indeterminate.
func classifyWinner(prices [2]float64) (domain.Outcome, error) {
	switch {
	case prices[0] > 0.9 && prices[1] < 0.1:
		return domain.OutcomeYes, nil
	case prices[1] > 0.9 && prices[0] < 0.1:
		return domain.OutcomeNo, nil
	default:
		return "", domain.ErrIndeterminate
	}
}

// recordDetected appends to the bounded in-memory list and mirrors the
// record to the optional store and signal bus.
func (s *Service) recordDetected(ctx context.Context, dt domain.DetectedTrade) {
	s.mu.Lock()
	s.detected = append(s.detected, dt)
	if len(s.detected) > detectedRetention {
		s.detected = s.detected[len(s.detected)-detectedRetention:]
	}
	s.mu.Unlock()

	if s.opts.Store != nil {
		if err := s.opts.Store.InsertDetected(ctx, dt); err != nil {
			s.logger.Warn("detected trade persist failed",
				slog.String("tx_hash", dt.TxHash),
				slog.String("error", err.Error()),
			)
		}
	}
	s.publishDetected(ctx, dt)
}

// markOutcome finalizes a detected trade's execution result. Executed only
// ever transitions false -> true and the error string is written once.
func (s *Service) markOutcome(ctx context.Context, txHash string, executed bool, execErr string) {
	s.mu.Lock()
	var updated *domain.DetectedTrade
	for i := len(s.detected) - 1; i >= 0; i-- {
		if s.detected[i].TxHash != txHash {
			continue
		}
		d := &s.detected[i]
		if executed && !d.Executed {
			d.Executed = true
			now := s.now()
			d.ExecutedAt = &now
		}
		if execErr != "" && d.ExecutionError == "" {
			d.ExecutionError = execErr
		}
		copied := *d
		updated = &copied
		break
	}
	s.mu.Unlock()

	if s.opts.Store != nil {
		if err := s.opts.Store.MarkOutcome(ctx, txHash, executed, execErr); err != nil {
			s.logger.Warn("detected trade outcome persist failed",
				slog.String("tx_hash", txHash),
				slog.String("error", err.Error()),
			)
		}
	}
	if updated != nil {
		s.publishDetected(ctx, *updated)
	}
}
