package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/rotor/internal/domain"
	"go.uber.org/zap"
)

// Paper simulates an exchange in memory. Market orders fill immediately at the
// ask (buy) or bid (sell); limit orders rest until CheckAndFillPaperOrders sees
// the last price cross them. Real prices come from the injected MarketData.
type Paper struct {
	mu       sync.Mutex
	data     MarketData
	pairs    map[string]domain.Pair
	balances map[string]decimal.Decimal
	orders   map[string]*domain.Order
	logger   *zap.Logger
	now      func() time.Time
}

// NewPaper builds a paper engine trading the given pairs with the given
// starting balances (currency to amount).
func NewPaper(data MarketData, pairs []domain.Pair, initialBalances map[string]decimal.Decimal, logger *zap.Logger) *Paper {
	if logger == nil {
		logger = zap.NewNop()
	}

	pairIndex := make(map[string]domain.Pair, len(pairs))
	balances := make(map[string]decimal.Decimal, len(initialBalances))
	for _, p := range pairs {
		pairIndex[p.Symbol()] = p
		if _, ok := initialBalances[p.Base]; !ok {
			balances[p.Base] = decimal.Zero
		}
	}
	for currency, amount := range initialBalances {
		balances[currency] = amount
	}

	return &Paper{
		data:     data,
		pairs:    pairIndex,
		balances: balances,
		orders:   make(map[string]*domain.Order),
		logger:   logger,
		now:      time.Now,
	}
}

func (p *Paper) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	return p.data.GetTicker(ctx, symbol)
}

func (p *Paper) GetTickers(ctx context.Context, symbols []string) (map[string]domain.Ticker, error) {
	tickers := make(map[string]domain.Ticker, len(symbols))
	for _, symbol := range symbols {
		ticker, err := p.data.GetTicker(ctx, symbol)
		if err != nil {
			return nil, err
		}
		tickers[symbol] = ticker
	}
	return tickers, nil
}

func (p *Paper) GetBalance(_ context.Context, currency string) (domain.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balanceLocked(currency), nil
}

func (p *Paper) GetAllBalances(context.Context) (map[string]domain.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	balances := make(map[string]domain.Balance, len(p.balances))
	for currency := range p.balances {
		balances[currency] = p.balanceLocked(currency)
	}
	return balances, nil
}

func (p *Paper) balanceLocked(currency string) domain.Balance {
	amount := p.balances[currency]
	return domain.Balance{
		Currency: currency,
		Free:     amount,
		Used:     decimal.Zero,
		Total:    amount,
	}
}

func (p *Paper) CreateLimitOrder(_ context.Context, symbol string, side domain.SignalType, amount, price decimal.Decimal) (domain.Order, error) {
	if _, ok := p.pairs[symbol]; !ok {
		return domain.Order{}, errors.Errorf("unknown trading pair %s", symbol)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	order := &domain.Order{
		ID:        "paper-" + uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Kind:      domain.OrderKindLimit,
		Price:     price,
		Amount:    amount,
		Filled:    decimal.Zero,
		Status:    domain.OrderStatusOpen,
		Timestamp: p.now().UnixMilli(),
	}
	p.orders[order.ID] = order

	p.logger.Info("paper limit order placed",
		zap.String("id", order.ID),
		zap.String("symbol", symbol),
		zap.String("side", side.String()),
		zap.String("amount", amount.String()),
		zap.String("price", price.String()))

	return *order, nil
}

func (p *Paper) CreateMarketOrder(ctx context.Context, symbol string, side domain.SignalType, amount decimal.Decimal) (domain.Order, error) {
	pair, ok := p.pairs[symbol]
	if !ok {
		return domain.Order{}, errors.Errorf("unknown trading pair %s", symbol)
	}

	ticker, err := p.data.GetTicker(ctx, symbol)
	if err != nil {
		return domain.Order{}, errors.Wrapf(err, "get ticker for %s", symbol)
	}

	price := ticker.Ask
	if side == domain.SignalSell {
		price = ticker.Bid
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	order := &domain.Order{
		ID:        "paper-" + uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Kind:      domain.OrderKindMarket,
		Price:     price,
		Amount:    amount,
		Filled:    decimal.Zero,
		Status:    domain.OrderStatusCanceled,
		Timestamp: p.now().UnixMilli(),
	}

	if p.settleLocked(pair, side, amount, price) {
		order.Status = domain.OrderStatusClosed
		order.Filled = amount
	} else {
		p.logger.Warn("paper market order rejected, insufficient balance",
			zap.String("symbol", symbol),
			zap.String("side", side.String()))
	}

	p.orders[order.ID] = order
	return *order, nil
}

// settleLocked moves balances for a fill and reports whether funds sufficed.
func (p *Paper) settleLocked(pair domain.Pair, side domain.SignalType, amount, price decimal.Decimal) bool {
	switch side {
	case domain.SignalBuy:
		cost := amount.Mul(price)
		if p.balances[pair.Quote].LessThan(cost) {
			return false
		}
		p.balances[pair.Quote] = p.balances[pair.Quote].Sub(cost)
		p.balances[pair.Base] = p.balances[pair.Base].Add(amount)
		p.logger.Info("paper buy executed",
			zap.String("amount", amount.String()),
			zap.String("base", pair.Base),
			zap.String("price", price.String()),
			zap.String("cost", cost.StringFixed(2)))
		return true

	case domain.SignalSell:
		if p.balances[pair.Base].LessThan(amount) {
			return false
		}
		proceeds := amount.Mul(price)
		p.balances[pair.Base] = p.balances[pair.Base].Sub(amount)
		p.balances[pair.Quote] = p.balances[pair.Quote].Add(proceeds)
		p.logger.Info("paper sell executed",
			zap.String("amount", amount.String()),
			zap.String("base", pair.Base),
			zap.String("price", price.String()),
			zap.String("proceeds", proceeds.StringFixed(2)))
		return true
	}
	return false
}

func (p *Paper) CancelOrder(_ context.Context, orderID, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return errors.Errorf("order %s not found", orderID)
	}
	order.Status = domain.OrderStatusCanceled
	p.logger.Info("paper order canceled", zap.String("id", orderID))
	return nil
}

func (p *Paper) GetOrder(_ context.Context, orderID, _ string) (domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return domain.Order{}, errors.Errorf("order %s not found", orderID)
	}
	return *order, nil
}

func (p *Paper) GetOpenOrders(_ context.Context, symbol string) ([]domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var orders []domain.Order
	for _, order := range p.orders {
		if order.Status != domain.OrderStatusOpen {
			continue
		}
		if symbol != "" && order.Symbol != symbol {
			continue
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

// CheckAndFillPaperOrders sweeps resting limit orders against current prices:
// a buy fills when last <= limit, a sell when last >= limit. Orders that
// crossed but lack balance stay open.
func (p *Paper) CheckAndFillPaperOrders(ctx context.Context) ([]domain.Order, error) {
	p.mu.Lock()
	open := make([]*domain.Order, 0, len(p.orders))
	for _, order := range p.orders {
		if order.Status == domain.OrderStatusOpen && order.Kind == domain.OrderKindLimit {
			open = append(open, order)
		}
	}
	p.mu.Unlock()

	var filled []domain.Order
	for _, order := range open {
		ticker, err := p.data.GetTicker(ctx, order.Symbol)
		if err != nil {
			return nil, errors.Wrapf(err, "get ticker for %s", order.Symbol)
		}

		crossed := (order.Side == domain.SignalBuy && ticker.Last.LessThanOrEqual(order.Price)) ||
			(order.Side == domain.SignalSell && ticker.Last.GreaterThanOrEqual(order.Price))
		if !crossed {
			continue
		}

		pair := p.pairs[order.Symbol]

		p.mu.Lock()
		if p.settleLocked(pair, order.Side, order.Amount, order.Price) {
			order.Filled = order.Amount
			order.Status = domain.OrderStatusClosed
			filled = append(filled, *order)
			p.logger.Info("paper limit order filled",
				zap.String("id", order.ID),
				zap.String("side", order.Side.String()),
				zap.String("price", order.Price.String()))
		}
		p.mu.Unlock()
	}

	return filled, nil
}
