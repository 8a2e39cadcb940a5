// Package engine implements the paper execution engine: simulated fills
// against live store prices, the position ledger, balance, realized and
// unrealized PnL, the bounded trade log, and settlement redemption.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// historyCap bounds the in-memory trade log; the oldest record is evicted
// when the cap is exceeded.
const historyCap = 1000

// archiveBatchSize is how many evicted records accumulate before a flush to
// the archive sink.
const archiveBatchSize = 200

// Quoter is the market-store surface the engine reads prices from.
type Quoter interface {
	Market(marketID string) (domain.MarketData, bool)
	BestAsk(marketID string, o domain.Outcome) (float64, bool)
	BestBid(marketID string, o domain.Outcome) (float64, bool)
}

// Options carries the optional collaborators. All are nil-safe: persistence,
// event publication, and archival are best-effort and never block a fill.
type Options struct {
	Trades    domain.TradeStore
	Positions domain.PositionStore
	Account   domain.AccountStore
	Bus       domain.SignalBus
	Archiver  domain.TradeArchiver
}

// Engine is the paper trading engine. All state is guarded by one mutex;
// every mutation is a single transactional read-modify-write.
type Engine struct {
	mu        sync.Mutex
	balance   float64
	realized  float64
	positions map[string]*domain.Position
	history   []domain.TradeRecord
	evicted   []domain.TradeRecord

	quotes Quoter
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

// New creates an engine with the given starting balance.
func New(quotes Quoter, initialBalance float64, opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		balance:   initialBalance,
		positions: make(map[string]*domain.Position),
		quotes:    quotes,
		opts:      opts,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "execution_engine")),
	}
}

// ExecuteTrade simulates a fill for the order. Rejections are typed results
// with a reason and mutate no state. Fill price resolution: order.Price when
// supplied (limit), otherwise the store's best ask for buys / best bid for
// sells on the requested outcome.
func (e *Engine) ExecuteTrade(ctx context.Context, order domain.TradeOrder) domain.Fill {
	e.mu.Lock()

	price := order.Price
	if price == 0 {
		var ok bool
		if _, exists := e.quotes.Market(order.MarketID); !exists {
			e.mu.Unlock()
			return e.reject(order, "no market data for market order")
		}
		if order.Side == domain.OrderSideBuy {
			price, ok = e.quotes.BestAsk(order.MarketID, order.Outcome)
		} else {
			price, ok = e.quotes.BestBid(order.MarketID, order.Outcome)
		}
		if !ok {
			e.mu.Unlock()
			return e.reject(order, "no book side for market order")
		}
	}
	if price <= 0 || price > 1 {
		e.mu.Unlock()
		return e.reject(order, fmt.Sprintf("invalid fill price %.4f", price))
	}
	if order.Size <= 0 {
		e.mu.Unlock()
		return e.reject(order, "order size must be positive")
	}

	tokens := order.Size / price

	switch order.Side {
	case domain.OrderSideBuy:
		if e.balance < order.Size {
			bal := e.balance
			e.mu.Unlock()
			return e.reject(order, fmt.Sprintf("insufficient balance: have %.2f, need %.2f", bal, order.Size))
		}
		e.applyBuyLocked(order, price, tokens)
	case domain.OrderSideSell:
		pos, ok := e.positions[order.MarketID]
		if !ok || pos.Tokens(order.Outcome) <= 0 {
			e.mu.Unlock()
			return e.reject(order, fmt.Sprintf("no %s tokens to sell in market %s", order.Outcome, order.MarketID))
		}
		if pos.Tokens(order.Outcome)+1e-9 < tokens {
			have := pos.Tokens(order.Outcome)
			e.mu.Unlock()
			return e.reject(order, fmt.Sprintf("insufficient tokens: have %.4f, need %.4f", have, tokens))
		}
		e.applySellLocked(order, price, tokens)
	default:
		e.mu.Unlock()
		return e.reject(order, fmt.Sprintf("unknown order side %q", order.Side))
	}

	rec := domain.TradeRecord{
		ID:        uuid.New().String(),
		MarketID:  order.MarketID,
		Outcome:   order.Outcome,
		Side:      order.Side,
		Price:     price,
		Size:      order.Size,
		Tokens:    tokens,
		Source:    order.Source,
		Timestamp: e.now(),
	}
	e.appendRecordLocked(rec)
	pos := e.positions[order.MarketID]
	var posCopy *domain.Position
	if pos != nil {
		c := *pos
		posCopy = &c
	}
	e.mu.Unlock()

	e.mirror(ctx, rec, posCopy)

	e.logger.Info("trade filled",
		slog.String("market_id", order.MarketID),
		slog.String("outcome", string(order.Outcome)),
		slog.String("side", string(order.Side)),
		slog.Float64("price", price),
		slog.Float64("size", order.Size),
		slog.Float64("tokens", tokens),
	)

	return domain.Fill{Status: domain.FillStatusFilled, Price: price, Tokens: tokens}
}

// applyBuyLocked debits balance and folds the fill into the position as a
// running weighted average: newEntry = (oldTokens*oldEntry + size)/(old+new).
func (e *Engine) applyBuyLocked(order domain.TradeOrder, price, tokens float64) {
	e.balance -= order.Size

	pos, ok := e.positions[order.MarketID]
	if !ok {
		pos = &domain.Position{
			MarketID: order.MarketID,
			OpenedAt: e.now(),
		}
		if m, exists := e.quotes.Market(order.MarketID); exists {
			pos.ConditionID = m.ConditionID
		}
		e.positions[order.MarketID] = pos
	}

	if order.Outcome == domain.OutcomeYes {
		old := pos.YesTokens
		pos.YesEntryPrice = (old*pos.YesEntryPrice + order.Size) / (old + tokens)
		pos.YesTokens = old + tokens
	} else {
		old := pos.NoTokens
		pos.NoEntryPrice = (old*pos.NoEntryPrice + order.Size) / (old + tokens)
		pos.NoTokens = old + tokens
	}
	pos.TotalEntryCost = pos.YesTokens*pos.YesEntryPrice + pos.NoTokens*pos.NoEntryPrice
	pos.UpdatedAt = e.now()
}

// applySellLocked credits balance, reduces the token count, and zeroes the
// entry price once the side is emptied. An emptied position is deleted.
func (e *Engine) applySellLocked(order domain.TradeOrder, price, tokens float64) {
	e.balance += order.Size

	pos := e.positions[order.MarketID]
	if order.Outcome == domain.OutcomeYes {
		pos.YesTokens -= tokens
		if pos.YesTokens <= 1e-9 {
			pos.YesTokens = 0
			pos.YesEntryPrice = 0
		}
	} else {
		pos.NoTokens -= tokens
		if pos.NoTokens <= 1e-9 {
			pos.NoTokens = 0
			pos.NoEntryPrice = 0
		}
	}
	pos.TotalEntryCost = pos.YesTokens*pos.YesEntryPrice + pos.NoTokens*pos.NoEntryPrice
	pos.UpdatedAt = e.now()
	if pos.Empty() {
		delete(e.positions, order.MarketID)
	}
}

func (e *Engine) reject(order domain.TradeOrder, reason string) domain.Fill {
	e.logger.Warn("trade rejected",
		slog.String("market_id", order.MarketID),
		slog.String("outcome", string(order.Outcome)),
		slog.String("side", string(order.Side)),
		slog.String("reason", reason),
	)
	return domain.Fill{Status: domain.FillStatusRejected, Reason: reason}
}

// Balance returns the current cash balance.
func (e *Engine) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// RealizedPnL returns the running realized PnL accumulator.
func (e *Engine) RealizedPnL() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.realized
}

// Position returns one position with current prices and unrealized PnL
// recomputed from the latest store quotes.
func (e *Engine) Position(marketID string) (domain.Position, bool) {
	e.mu.Lock()
	pos, ok := e.positions[marketID]
	if !ok {
		e.mu.Unlock()
		return domain.Position{}, false
	}
	out := *pos
	e.mu.Unlock()
	e.markToMarket(&out)
	return out, true
}

// Positions returns every open position, marked to market, ordered by
// market id.
func (e *Engine) Positions() []domain.Position {
	e.mu.Lock()
	out := make([]domain.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, *pos)
	}
	e.mu.Unlock()

	for i := range out {
		e.markToMarket(&out[i])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// markToMarket fills current prices and unrealized PnL from the store:
// (yesTokens*yesBid + noTokens*noBid) - totalEntryCost. A side with tokens
// but no price leaves UnrealizedPnL nil.
func (e *Engine) markToMarket(pos *domain.Position) {
	pos.YesCurrent, pos.NoCurrent, pos.UnrealizedPnL = nil, nil, nil

	if bid, ok := e.quotes.BestBid(pos.MarketID, domain.OutcomeYes); ok {
		pos.YesCurrent = &bid
	}
	if bid, ok := e.quotes.BestBid(pos.MarketID, domain.OutcomeNo); ok {
		pos.NoCurrent = &bid
	}
	if (pos.YesTokens > 0 && pos.YesCurrent == nil) || (pos.NoTokens > 0 && pos.NoCurrent == nil) {
		return
	}
	value := 0.0
	if pos.YesTokens > 0 {
		value += pos.YesTokens * *pos.YesCurrent
	}
	if pos.NoTokens > 0 {
		value += pos.NoTokens * *pos.NoCurrent
	}
	pnl := value - pos.TotalEntryCost
	pos.UnrealizedPnL = &pnl
}

// PnL returns total realized PnL plus the sum of open positions' current
// unrealized PnL.
func (e *Engine) PnL() float64 {
	total := e.RealizedPnL()
	for _, pos := range e.Positions() {
		if pos.UnrealizedPnL != nil {
			total += *pos.UnrealizedPnL
		}
	}
	return total
}

// History returns the most recent trade records, newest first, up to limit
// (0 means all retained records).
func (e *Engine) History(limit int) []domain.TradeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.TradeRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.history[i])
	}
	return out
}

// appendRecordLocked appends to the bounded log, moving the evicted oldest
// record into the archive buffer.
func (e *Engine) appendRecordLocked(rec domain.TradeRecord) {
	e.history = append(e.history, rec)
	if len(e.history) > historyCap {
		e.evicted = append(e.evicted, e.history[0])
		e.history = e.history[1:]
	}
}

// mirror pushes the fill to the persistence collaborator, publishes it on
// the signal bus, and flushes the archive buffer when full. All best-effort.
func (e *Engine) mirror(ctx context.Context, rec domain.TradeRecord, pos *domain.Position) {
	if e.opts.Trades != nil {
		if err := e.opts.Trades.InsertTrade(ctx, rec); err != nil {
			e.logger.Warn("trade persist failed",
				slog.String("trade_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.opts.Positions != nil {
		var err error
		if pos != nil {
			err = e.opts.Positions.Upsert(ctx, *pos)
		} else {
			err = e.opts.Positions.Delete(ctx, rec.MarketID)
		}
		if err != nil {
			e.logger.Warn("position persist failed",
				slog.String("market_id", rec.MarketID),
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
	if e.opts.Bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"event":     "trade_filled",
			"trade_id":  rec.ID,
			"market_id": rec.MarketID,
			"outcome":   string(rec.Outcome),
			"side":      string(rec.Side),
			"price":     rec.Price,
			"size":      rec.Size,
		})
		if err := e.opts.Bus.Publish(ctx, "trades", payload); err != nil {
			e.logger.Warn("trade publish failed", slog.String("error", err.Error()))
		}
	}
	e.flushArchive(ctx, false)
}

// flushArchive ships buffered evicted records to the archive sink once the
// batch threshold is reached, or unconditionally when force is set.
func (e *Engine) flushArchive(ctx context.Context, force bool) {
	if e.opts.Archiver == nil {
		return
	}
	e.mu.Lock()
	if len(e.evicted) == 0 || (!force && len(e.evicted) < archiveBatchSize) {
		e.mu.Unlock()
		return
	}
	batch := e.evicted
	e.evicted = nil
	e.mu.Unlock()

	if err := e.opts.Archiver.Archive(ctx, batch); err != nil {
		e.logger.Warn("trade archive failed",
			slog.Int("records", len(batch)),
			slog.String("error", err.Error()),
		)
		e.mu.Lock()
		e.evicted = append(batch, e.evicted...)
		e.mu.Unlock()
	}
}

// Close flushes any buffered evicted records.
func (e *Engine) Close(ctx context.Context) {
	e.flushArchive(ctx, true)
}
