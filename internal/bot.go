// Package internal wires the trading loop: portfolio valuation, risk gating,
// paper-fill reconciliation, strategy evaluation and signal execution.
package internal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/rotor/internal/domain"
	"github.com/vadiminshakov/rotor/internal/exchange"
	"github.com/vadiminshakov/rotor/internal/market"
	"github.com/vadiminshakov/rotor/internal/monitoring"
	"github.com/vadiminshakov/rotor/internal/risk"
	"github.com/vadiminshakov/rotor/internal/storage"
	"github.com/vadiminshakov/rotor/internal/strategy"
	"go.uber.org/zap"
)

const (
	riskStateKey    = "risk_manager"
	errorBackoff    = 10 * time.Second
	summaryStatDays = 30
)

// Store is the persistence surface the bot needs.
type Store interface {
	SaveOrder(ctx context.Context, order domain.Order, strategyName string) error
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, filled decimal.Decimal) error
	SaveTrade(ctx context.Context, trade storage.Trade) error
	SavePortfolioSnapshot(ctx context.Context, totalValue decimal.Decimal, balances map[string]domain.Balance, prices map[string]decimal.Decimal) error
	SaveBotState(ctx context.Context, key string, value json.RawMessage) error
	BotState(ctx context.Context, key string) (json.RawMessage, error)
	SaveStrategyState(ctx context.Context, name string, state json.RawMessage) error
	StrategyState(ctx context.Context, name string) (json.RawMessage, error)
	GetPerformanceStats(ctx context.Context, days int) (storage.PerformanceStats, error)
}

// PaperFiller is implemented by the paper engine; the live connector is not
// expected to provide it.
type PaperFiller interface {
	CheckAndFillPaperOrders(ctx context.Context) ([]domain.Order, error)
}

// TradingBot runs the trading cycle on a fixed interval, single-threaded.
type TradingBot struct {
	pairs         []domain.TradingPair
	checkInterval time.Duration
	paperTrading  bool

	exchange   exchange.Exchange
	store      Store
	riskMgr    *risk.Manager
	strategies []strategy.Strategy
	marketCtx  *market.ContextService
	logger     *zap.Logger
}

func NewTradingBot(
	pairs []domain.TradingPair,
	checkInterval time.Duration,
	paperTrading bool,
	exch exchange.Exchange,
	store Store,
	riskMgr *risk.Manager,
	strategies []strategy.Strategy,
	marketCtx *market.ContextService,
	logger *zap.Logger,
) *TradingBot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradingBot{
		pairs:         pairs,
		checkInterval: checkInterval,
		paperTrading:  paperTrading,
		exchange:      exch,
		store:         store,
		riskMgr:       riskMgr,
		strategies:    strategies,
		marketCtx:     marketCtx,
		logger:        logger,
	}
}

// LoadState restores the risk manager and every strategy from persistence.
func (b *TradingBot) LoadState(ctx context.Context) error {
	riskState, err := b.store.BotState(ctx, riskStateKey)
	if err != nil {
		return errors.Wrap(err, "load risk manager state")
	}
	if riskState != nil {
		if err := b.riskMgr.RestoreState(riskState); err != nil {
			return err
		}
		b.logger.Info("loaded risk manager state")
	}

	for _, strat := range b.strategies {
		state, err := b.store.StrategyState(ctx, strat.Name())
		if err != nil {
			return errors.Wrapf(err, "load state for %s", strat.Name())
		}
		if state == nil {
			continue
		}
		if err := strat.RestoreState(state); err != nil {
			return errors.Wrapf(err, "restore state for %s", strat.Name())
		}
		b.logger.Info("loaded strategy state", zap.String("strategy", strat.Name()))
	}
	return nil
}

func (b *TradingBot) saveState(ctx context.Context) {
	riskState, err := b.riskMgr.StateJSON()
	if err != nil {
		b.logger.Error("serialize risk state", zap.Error(err))
	} else if err := b.store.SaveBotState(ctx, riskStateKey, riskState); err != nil {
		b.logger.Error("persist risk state", zap.Error(err))
		monitoring.RecordError("storage")
	}

	for _, strat := range b.strategies {
		state, err := strat.StateJSON()
		if err != nil {
			b.logger.Error("serialize strategy state",
				zap.String("strategy", strat.Name()), zap.Error(err))
			continue
		}
		if err := b.store.SaveStrategyState(ctx, strat.Name(), state); err != nil {
			b.logger.Error("persist strategy state",
				zap.String("strategy", strat.Name()), zap.Error(err))
			monitoring.RecordError("storage")
		}
	}
}

func (b *TradingBot) symbols() []string {
	symbols := make([]string, len(b.pairs))
	for i, pair := range b.pairs {
		symbols[i] = pair.Symbol()
	}
	return symbols
}

// portfolioValue sums the quote balance plus every base balance at its last
// price.
func (b *TradingBot) portfolioValue(ctx context.Context) (decimal.Decimal, map[string]domain.Balance, map[string]decimal.Decimal, error) {
	balances, err := b.exchange.GetAllBalances(ctx)
	if err != nil {
		return decimal.Zero, nil, nil, errors.Wrap(err, "fetch balances")
	}
	tickers, err := b.exchange.GetTickers(ctx, b.symbols())
	if err != nil {
		return decimal.Zero, nil, nil, errors.Wrap(err, "fetch tickers")
	}

	total := decimal.Zero
	prices := make(map[string]decimal.Decimal, len(b.pairs))

	if quote, ok := balances[b.pairs[0].Pair.Quote]; ok {
		total = total.Add(quote.Total)
	}

	for _, pair := range b.pairs {
		ticker, ok := tickers[pair.Symbol()]
		if !ok {
			continue
		}
		prices[pair.Symbol()] = ticker.Last
		monitoring.UpdatePrice(pair.Symbol(), ticker.Last.InexactFloat64())

		if base, ok := balances[pair.Pair.Base]; ok && base.Total.IsPositive() {
			total = total.Add(base.Total.Mul(ticker.Last))
		}
	}

	return total, balances, prices, nil
}

// executeSignal validates and submits one signal. A rejection or submission
// failure produces no order and no error.
func (b *TradingBot) executeSignal(ctx context.Context, sig domain.Signal, strat strategy.Strategy) *domain.Order {
	symbol := sig.Pair.Symbol()

	ticker, err := b.exchange.GetTicker(ctx, symbol)
	if err != nil {
		b.logger.Error("fetch ticker for signal", zap.String("symbol", symbol), zap.Error(err))
		monitoring.RecordError("exchange")
		return nil
	}
	balances, err := b.exchange.GetAllBalances(ctx)
	if err != nil {
		b.logger.Error("fetch balances for signal", zap.Error(err))
		monitoring.RecordError("exchange")
		return nil
	}

	verdict := b.riskMgr.ValidateSignal(sig, balances, ticker)
	if !verdict.OK {
		b.logger.Warn("signal rejected by risk manager",
			zap.String("strategy", strat.Name()),
			zap.String("signal", sig.String()),
			zap.String("reason", verdict.Reason))
		monitoring.RecordSignalRejected(symbol, strat.Name())
		return nil
	}

	var order domain.Order
	if sig.Kind == domain.OrderKindMarket {
		order, err = b.exchange.CreateMarketOrder(ctx, symbol, sig.Type, sig.Amount)
	} else {
		order, err = b.exchange.CreateLimitOrder(ctx, symbol, sig.Type, sig.Amount, sig.Price)
	}
	if err != nil {
		b.logger.Error("failed to execute signal",
			zap.String("strategy", strat.Name()),
			zap.String("signal", sig.String()),
			zap.Error(err))
		monitoring.RecordError("exchange")
		return nil
	}

	price := sig.Price
	if price.IsZero() {
		price = ticker.Last
	}

	b.logger.Info("order created",
		zap.String("id", order.ID),
		zap.String("strategy", strat.Name()),
		zap.String("symbol", symbol),
		zap.String("side", sig.Type.String()),
		zap.String("amount", sig.Amount.String()),
		zap.String("price", price.String()),
		zap.String("reason", sig.Reason))
	monitoring.RecordSignalExecuted(symbol, sig.Type.String(), strat.Name())

	if err := b.store.SaveOrder(ctx, order, strat.Name()); err != nil {
		b.logger.Error("persist order", zap.String("id", order.ID), zap.Error(err))
		monitoring.RecordError("storage")
	}

	if assoc, ok := strat.(strategy.OrderAssociator); ok && !sig.Price.IsZero() {
		assoc.AssociateOrder(sig.Price, order.ID)
	}

	if order.Status == domain.OrderStatusClosed {
		if err := b.store.SaveTrade(ctx, storage.Trade{
			OrderID:  order.ID,
			Symbol:   symbol,
			Side:     sig.Type,
			Price:    price,
			Amount:   sig.Amount,
			Strategy: strat.Name(),
		}); err != nil {
			b.logger.Error("persist trade", zap.String("order_id", order.ID), zap.Error(err))
			monitoring.RecordError("storage")
		}

		if recorder, ok := strat.(strategy.FillRecorder); ok && sig.Type == domain.SignalBuy {
			recorder.RecordBuy(price, sig.Amount)
		}

		b.logger.Info("order filled",
			zap.String("id", order.ID),
			zap.String("symbol", symbol),
			zap.String("side", sig.Type.String()))
	}

	return &order
}

// reconcileFills sweeps simulated limit orders and routes every fill through
// each strategy's fill handler before any fresh evaluation happens.
func (b *TradingBot) reconcileFills(ctx context.Context) {
	if !b.paperTrading {
		return
	}
	filler, ok := b.exchange.(PaperFiller)
	if !ok {
		return
	}

	filled, err := filler.CheckAndFillPaperOrders(ctx)
	if err != nil {
		b.logger.Error("check paper order fills", zap.Error(err))
		monitoring.RecordError("exchange")
		return
	}

	for _, order := range filled {
		if err := b.store.UpdateOrderStatus(ctx, order.ID, order.Status, order.Filled); err != nil {
			b.logger.Error("update order status", zap.String("id", order.ID), zap.Error(err))
			monitoring.RecordError("storage")
		}
		if err := b.store.SaveTrade(ctx, storage.Trade{
			OrderID: order.ID,
			Symbol:  order.Symbol,
			Side:    order.Side,
			Price:   order.Price,
			Amount:  order.Amount,
		}); err != nil {
			b.logger.Error("persist trade", zap.String("order_id", order.ID), zap.Error(err))
			monitoring.RecordError("storage")
		}

		for _, strat := range b.strategies {
			signals, err := strat.OnOrderFilled(ctx, order)
			if err != nil {
				b.logger.Error("fill handler failed",
					zap.String("strategy", strat.Name()),
					zap.String("order_id", order.ID),
					zap.Error(err))
				monitoring.RecordError("strategy")
				continue
			}
			for _, sig := range signals {
				b.executeSignal(ctx, sig, strat)
			}
		}
	}
}

// runCycle is one full pass of the control loop.
func (b *TradingBot) runCycle(ctx context.Context) error {
	totalValue, balances, prices, err := b.portfolioValue(ctx)
	if err != nil {
		return err
	}

	b.riskMgr.UpdatePortfolioValue(totalValue)
	monitoring.UpdatePortfolioValue(totalValue.InexactFloat64())
	monitoring.UpdateTradingPaused(b.riskMgr.Paused())

	if err := b.store.SavePortfolioSnapshot(ctx, totalValue, balances, prices); err != nil {
		return errors.Wrap(err, "save portfolio snapshot")
	}

	b.logger.Info("portfolio",
		zap.String("total_value", totalValue.StringFixed(2)),
		zap.String("drawdown", b.riskMgr.Drawdown().Mul(decimal.NewFromInt(100)).StringFixed(2)+"%"))

	if b.riskMgr.Paused() {
		b.logger.Warn("trading paused, skipping strategy evaluation",
			zap.String("reason", b.riskMgr.PauseReason()))
		b.saveState(ctx)
		return nil
	}

	b.reconcileFills(ctx)

	tickers, err := b.exchange.GetTickers(ctx, b.symbols())
	if err != nil {
		return errors.Wrap(err, "fetch tickers")
	}
	balances, err = b.exchange.GetAllBalances(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch balances")
	}

	b.logMarketContext(ctx)

	for _, strat := range b.strategies {
		for _, pair := range b.pairs {
			ticker, ok := tickers[pair.Symbol()]
			if !ok {
				continue
			}

			signals, err := strat.Evaluate(ctx, ticker, balances)
			if err != nil {
				b.logger.Error("strategy evaluation failed",
					zap.String("strategy", strat.Name()),
					zap.Error(err))
				monitoring.RecordError("strategy")
				break
			}
			for _, sig := range signals {
				b.executeSignal(ctx, sig, strat)
			}
		}
	}

	b.saveState(ctx)
	return nil
}

func (b *TradingBot) logMarketContext(ctx context.Context) {
	if b.marketCtx == nil {
		return
	}
	for _, pair := range b.pairs {
		snap, err := b.marketCtx.Snapshot(ctx, pair.Symbol())
		if err != nil {
			b.logger.Debug("market context unavailable",
				zap.String("symbol", pair.Symbol()), zap.Error(err))
			continue
		}
		b.logger.Info("market context", zap.String("snapshot", snap.String()))
	}
}

// Run executes the control loop until ctx is canceled. A failing cycle is
// logged and retried after a fixed back-off instead of terminating the loop.
func (b *TradingBot) Run(ctx context.Context) error {
	if err := b.LoadState(ctx); err != nil {
		return err
	}

	if !b.riskMgr.Initialized() {
		totalValue, _, _, err := b.portfolioValue(ctx)
		if err != nil {
			return errors.Wrap(err, "initial portfolio valuation")
		}
		b.riskMgr.Initialize(totalValue)
	}

	b.logger.Info("bot started",
		zap.Bool("paper_trading", b.paperTrading),
		zap.Duration("check_interval", b.checkInterval),
		zap.Int("strategies", len(b.strategies)))

	for {
		if err := b.runCycle(ctx); err != nil {
			b.logger.Error("trading cycle failed", zap.Error(err))
			monitoring.RecordError("cycle")

			select {
			case <-ctx.Done():
				return b.shutdown()
			case <-time.After(errorBackoff):
			}
			continue
		}
		monitoring.RecordCycle()

		select {
		case <-ctx.Done():
			return b.shutdown()
		case <-time.After(b.checkInterval):
		}
	}
}

// shutdown saves final state and logs a trailing performance summary. It uses
// a fresh context because the run context is already canceled.
func (b *TradingBot) shutdown() error {
	b.logger.Info("shutting down bot")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b.saveState(ctx)

	stats, err := b.store.GetPerformanceStats(ctx, summaryStatDays)
	if err != nil {
		b.logger.Error("load performance stats", zap.Error(err))
	} else {
		b.logger.Info("performance summary",
			zap.Int("period_days", stats.PeriodDays),
			zap.Int("total_trades", stats.TotalTrades),
			zap.String("total_bought_usd", stats.TotalBought.StringFixed(2)),
			zap.String("total_sold_usd", stats.TotalSold.StringFixed(2)),
			zap.String("pnl_usd", stats.PnL.StringFixed(2)),
			zap.String("pnl_pct", stats.PnLPct.StringFixed(2)))
	}

	b.logger.Info("bot shutdown complete")
	return nil
}
