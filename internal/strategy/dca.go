package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/rotor/internal/domain"
	"go.uber.org/zap"
)

const secondsPerDay = 86400

// DCAConfig controls buy cadence and sizing. Percentages are fractions.
type DCAConfig struct {
	BuyIntervalHours    float64
	BuyAmountPct        decimal.Decimal
	PriceDropTriggerPct decimal.Decimal
	MaxBuysPerDay       int
}

type dcaState struct {
	LastBuyUnix       int64           `json:"last_buy_time"`
	LastBuyPrice      decimal.Decimal `json:"last_buy_price"`
	BuysToday         int             `json:"buys_today"`
	DayStartUnix      int64           `json:"day_start"`
	TotalInvested     decimal.Decimal `json:"total_invested"`
	TotalAmountBought decimal.Decimal `json:"total_amount_bought"`
	AveragePrice      decimal.Decimal `json:"average_price"`
}

// DCA buys on a fixed schedule and buys extra on sharp dips below the last
// buy price, capped per rolling day.
type DCA struct {
	cfg    DCAConfig
	pair   domain.TradingPair
	logger *zap.Logger
	state  dcaState
	now    func() time.Time
}

func NewDCA(cfg DCAConfig, pair domain.TradingPair, logger *zap.Logger) *DCA {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DCA{
		cfg:    cfg,
		pair:   pair,
		logger: logger,
		now:    time.Now,
	}
}

func (d *DCA) Name() string {
	return fmt.Sprintf("DCA(%s)", d.pair.Symbol())
}

func (d *DCA) resetDailyCounter() {
	if d.state.DayStartUnix == 0 {
		d.state.DayStartUnix = d.now().Unix()
		return
	}
	if d.now().Unix()-d.state.DayStartUnix < secondsPerDay {
		return
	}
	d.state.BuysToday = 0
	d.state.DayStartUnix = d.now().Unix()
	d.logger.Info("daily buy counter reset", zap.String("symbol", d.pair.Symbol()))
}

func (d *DCA) canBuy() bool {
	d.resetDailyCounter()
	return d.state.BuysToday < d.cfg.MaxBuysPerDay
}

func (d *DCA) scheduledBuyDue() bool {
	if d.state.LastBuyUnix == 0 {
		return true
	}
	hoursSince := float64(d.now().Unix()-d.state.LastBuyUnix) / 3600
	return hoursSince >= d.cfg.BuyIntervalHours
}

func (d *DCA) priceDropped(currentPrice decimal.Decimal) bool {
	if d.state.LastBuyPrice.IsZero() {
		return false
	}
	drop := d.state.LastBuyPrice.Sub(currentPrice).Div(d.state.LastBuyPrice)
	return drop.GreaterThanOrEqual(d.cfg.PriceDropTriggerPct)
}

func (d *DCA) Evaluate(_ context.Context, ticker domain.Ticker, balances map[string]domain.Balance) ([]domain.Signal, error) {
	if ticker.Symbol != d.pair.Symbol() {
		return nil, nil
	}

	quote, ok := balances[d.pair.Pair.Quote]
	if !ok || !quote.Free.IsPositive() {
		d.logger.Debug("no quote balance for DCA", zap.String("currency", d.pair.Pair.Quote))
		return nil, nil
	}

	if !d.canBuy() {
		d.logger.Debug("max daily buys reached", zap.String("symbol", d.pair.Symbol()))
		return nil, nil
	}

	currentPrice := ticker.Last

	var reason string
	switch {
	case d.scheduledBuyDue():
		reason = fmt.Sprintf("Scheduled DCA buy (every %gh)", d.cfg.BuyIntervalHours)
	case d.priceDropped(currentPrice):
		dropPct := d.state.LastBuyPrice.Sub(currentPrice).Div(d.state.LastBuyPrice).Mul(decimal.NewFromInt(100))
		reason = fmt.Sprintf("Price drop DCA buy (%s%% drop from last buy)", dropPct.StringFixed(1))
	default:
		return nil, nil
	}

	buyQuote := quote.Free.Mul(d.cfg.BuyAmountPct)
	amount := d.pair.RoundAmount(buyQuote.Div(currentPrice))

	if amount.LessThan(d.pair.MinOrderSize) {
		d.logger.Debug("buy amount below minimum",
			zap.String("amount", amount.String()),
			zap.String("min", d.pair.MinOrderSize.String()))
		return nil, nil
	}

	d.logger.Info("DCA signal",
		zap.String("reason", reason),
		zap.String("amount", amount.String()),
		zap.String("base", d.pair.Pair.Base))

	return []domain.Signal{{
		Type:   domain.SignalBuy,
		Pair:   d.pair.Pair,
		Amount: amount,
		Kind:   domain.OrderKindMarket,
		Reason: reason,
	}}, nil
}

// OnOrderFilled is a no-op: buy accounting happens through RecordBuy, which
// the orchestrator calls with the fill price and amount.
func (d *DCA) OnOrderFilled(context.Context, domain.Order) ([]domain.Signal, error) {
	return nil, nil
}

// RecordBuy updates the buy ledger and the running average price.
func (d *DCA) RecordBuy(price, amount decimal.Decimal) {
	if d.state.DayStartUnix == 0 {
		d.state.DayStartUnix = d.now().Unix()
	}
	d.state.LastBuyUnix = d.now().Unix()
	d.state.LastBuyPrice = price
	d.state.BuysToday++
	d.state.TotalInvested = d.state.TotalInvested.Add(price.Mul(amount))
	d.state.TotalAmountBought = d.state.TotalAmountBought.Add(amount)

	if d.state.TotalAmountBought.IsPositive() {
		d.state.AveragePrice = d.state.TotalInvested.Div(d.state.TotalAmountBought)
	}

	d.logger.Info("DCA buy recorded",
		zap.String("amount", amount.String()),
		zap.String("price", price.String()),
		zap.String("average_price", d.state.AveragePrice.StringFixed(2)),
		zap.String("total_invested", d.state.TotalInvested.StringFixed(2)))
}

// AveragePrice returns the volume-weighted average of all recorded buys.
func (d *DCA) AveragePrice() decimal.Decimal {
	return d.state.AveragePrice
}

func (d *DCA) StateJSON() (json.RawMessage, error) {
	data, err := json.Marshal(d.state)
	if err != nil {
		return nil, errors.Wrap(err, "marshal dca state")
	}
	return data, nil
}

func (d *DCA) RestoreState(raw json.RawMessage) error {
	var state dcaState
	if err := json.Unmarshal(raw, &state); err != nil {
		return errors.Wrap(err, "unmarshal dca state")
	}
	d.state = state
	return nil
}
