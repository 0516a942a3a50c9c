package strategy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/rotor/internal/domain"
	"go.uber.org/zap"
)

// orderMatchTolerance is the absolute price distance within which a submitted
// order is matched to a grid level.
var orderMatchTolerance = decimal.NewFromFloat(0.01)

var one = decimal.NewFromInt(1)

// GridConfig controls grid geometry and sizing. Percentages are fractions.
type GridConfig struct {
	NumGrids      int
	UpperPricePct decimal.Decimal
	LowerPricePct decimal.Decimal
	AllocationPct decimal.Decimal
}

// GridLevel is one rung of the grid. OrderID is set while an order rests at
// the level and cleared when it fills.
type GridLevel struct {
	Price   decimal.Decimal `json:"price"`
	Side    string          `json:"side"`
	OrderID string          `json:"order_id,omitempty"`
	Filled  bool            `json:"filled"`
}

type gridState struct {
	Initialized bool            `json:"initialized"`
	BasePrice   decimal.Decimal `json:"base_price"`
	OrderAmount decimal.Decimal `json:"order_amount"`
	Levels      []GridLevel     `json:"levels"`
}

// Grid places buy orders below the current price and sell orders above it.
// A filled buy rotates into a sell one step up, a filled sell into a buy one
// step down.
type Grid struct {
	cfg     GridConfig
	pair    domain.TradingPair
	tickers TickerSource
	logger  *zap.Logger
	state   gridState
}

// NewGrid builds an uninitialized grid strategy. The grid itself is laid out
// on the first Evaluate call, around the price observed there.
func NewGrid(cfg GridConfig, pair domain.TradingPair, tickers TickerSource, logger *zap.Logger) *Grid {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Grid{
		cfg:     cfg,
		pair:    pair,
		tickers: tickers,
		logger:  logger,
	}
}

func (g *Grid) Name() string {
	return fmt.Sprintf("Grid(%s)", g.pair.Symbol())
}

func (g *Grid) Evaluate(ctx context.Context, ticker domain.Ticker, balances map[string]domain.Balance) ([]domain.Signal, error) {
	if ticker.Symbol != g.pair.Symbol() {
		return nil, nil
	}

	quote, ok := balances[g.pair.Pair.Quote]
	if !ok {
		g.logger.Warn("no quote balance found", zap.String("currency", g.pair.Pair.Quote))
		return nil, nil
	}

	if !g.state.Initialized {
		return g.initializeGrid(ticker.Last, quote.Free), nil
	}

	if !g.state.BasePrice.IsZero() {
		deviation := ticker.Last.Sub(g.state.BasePrice).Abs().Div(g.state.BasePrice)
		if deviation.GreaterThan(decimal.NewFromFloat(0.15)) {
			g.logger.Info("price moved far from grid base, consider re-initializing",
				zap.String("symbol", g.pair.Symbol()),
				zap.String("deviation", deviation.Mul(decimal.NewFromInt(100)).StringFixed(1)+"%"))
		}
	}

	return nil, nil
}

// initializeGrid lays out the levels around the current price and returns
// limit buy signals for every level below it. Sell levels stay dormant until
// a buy at the level below fills.
func (g *Grid) initializeGrid(currentPrice, availableQuote decimal.Decimal) []domain.Signal {
	upper := currentPrice.Mul(one.Add(g.cfg.UpperPricePct))
	lower := currentPrice.Mul(one.Sub(g.cfg.LowerPricePct))
	spacing := upper.Sub(lower).Div(decimal.NewFromInt(int64(g.cfg.NumGrids)))

	if spacing.LessThan(orderMatchTolerance) {
		g.logger.Warn("grid spacing below order match tolerance, levels may collide",
			zap.String("spacing", spacing.String()))
	}

	numBuyGrids := int64(g.cfg.NumGrids / 2)
	perGridQuote := availableQuote.Mul(g.cfg.AllocationPct).Div(decimal.NewFromInt(numBuyGrids))

	g.state.BasePrice = currentPrice
	g.state.OrderAmount = perGridQuote
	g.state.Levels = g.state.Levels[:0]

	var signals []domain.Signal

	for i := 0; i < g.cfg.NumGrids; i++ {
		levelPrice := g.pair.RoundPrice(lower.Add(spacing.Mul(decimal.NewFromInt(int64(i)))))

		if levelPrice.LessThan(currentPrice) {
			amount := g.pair.RoundAmount(perGridQuote.Div(levelPrice))
			if amount.LessThan(g.pair.MinOrderSize) {
				continue
			}

			g.state.Levels = append(g.state.Levels, GridLevel{Price: levelPrice, Side: domain.SignalBuy.String()})
			signals = append(signals, domain.Signal{
				Type:   domain.SignalBuy,
				Pair:   g.pair.Pair,
				Price:  levelPrice,
				Amount: amount,
				Kind:   domain.OrderKindLimit,
				Reason: fmt.Sprintf("Grid buy level at %s", levelPrice),
			})
		} else {
			// Sell level. Activated when the buy below it fills.
			g.state.Levels = append(g.state.Levels, GridLevel{Price: levelPrice, Side: domain.SignalSell.String()})
		}
	}

	g.state.Initialized = true

	g.logger.Info("grid initialized",
		zap.String("symbol", g.pair.Symbol()),
		zap.Int("levels", len(g.state.Levels)),
		zap.String("lower", lower.String()),
		zap.String("upper", upper.String()))

	return signals
}

// OnOrderFilled rotates the filled level: a buy fill emits a sell one step
// above, a sell fill emits a buy one step below. Only the first level holding
// the order id reacts.
func (g *Grid) OnOrderFilled(ctx context.Context, order domain.Order) ([]domain.Signal, error) {
	halfGrids := decimal.NewFromInt(int64(g.cfg.NumGrids)).Div(decimal.NewFromInt(2))

	for i := range g.state.Levels {
		level := &g.state.Levels[i]
		if level.OrderID != order.ID {
			continue
		}

		level.Filled = true
		level.OrderID = ""

		var signals []domain.Signal

		switch level.Side {
		case domain.SignalBuy.String():
			sellPrice := g.pair.RoundPrice(level.Price.Mul(one.Add(g.cfg.UpperPricePct.Div(halfGrids))))
			amount := g.pair.RoundAmount(g.state.OrderAmount.Div(level.Price))

			if amount.GreaterThanOrEqual(g.pair.MinOrderSize) {
				signals = append(signals, domain.Signal{
					Type:   domain.SignalSell,
					Pair:   g.pair.Pair,
					Price:  sellPrice,
					Amount: amount,
					Kind:   domain.OrderKindLimit,
					Reason: fmt.Sprintf("Grid sell after buy fill at %s", level.Price),
				})
				g.logger.Info("buy filled, placing sell",
					zap.String("filled_at", level.Price.String()),
					zap.String("sell_at", sellPrice.String()))
			}

		case domain.SignalSell.String():
			buyPrice := g.pair.RoundPrice(level.Price.Mul(one.Sub(g.cfg.LowerPricePct.Div(halfGrids))))

			ticker, err := g.tickers.GetTicker(ctx, order.Symbol)
			if err != nil {
				return nil, errors.Wrapf(err, "get ticker for %s", order.Symbol)
			}

			amount := g.pair.RoundAmount(g.state.OrderAmount.Div(buyPrice))

			if amount.GreaterThanOrEqual(g.pair.MinOrderSize) {
				signals = append(signals, domain.Signal{
					Type:   domain.SignalBuy,
					Pair:   g.pair.Pair,
					Price:  buyPrice,
					Amount: amount,
					Kind:   domain.OrderKindLimit,
					Reason: fmt.Sprintf("Grid buy after sell fill at %s", level.Price),
				})
				g.logger.Info("sell filled, placing buy",
					zap.String("filled_at", level.Price.String()),
					zap.String("buy_at", buyPrice.String()),
					zap.String("market_price", ticker.Last.String()))
			}
		}

		return signals, nil
	}

	return nil, nil
}

// AssociateOrder links a submitted order to the nearest grid level. The first
// level within tolerance wins.
func (g *Grid) AssociateOrder(price decimal.Decimal, orderID string) {
	for i := range g.state.Levels {
		if g.state.Levels[i].Price.Sub(price).Abs().LessThan(orderMatchTolerance) {
			g.state.Levels[i].OrderID = orderID
			return
		}
	}
}

func (g *Grid) StateJSON() (json.RawMessage, error) {
	data, err := json.Marshal(g.state)
	if err != nil {
		return nil, errors.Wrap(err, "marshal grid state")
	}
	return data, nil
}

func (g *Grid) RestoreState(raw json.RawMessage) error {
	var state gridState
	if err := json.Unmarshal(raw, &state); err != nil {
		return errors.Wrap(err, "unmarshal grid state")
	}
	g.state = state
	return nil
}

// Levels returns a copy of the grid levels, used by status reporting.
func (g *Grid) Levels() []GridLevel {
	out := make([]GridLevel, len(g.state.Levels))
	copy(out, g.state.Levels)
	return out
}
