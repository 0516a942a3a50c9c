package exchange

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/rotor/internal/domain"
	"go.uber.org/zap"
)

// Binance is the live spot connector.
type Binance struct {
	client *binance.Client
	logger *zap.Logger
}

func NewBinance(client *binance.Client, logger *zap.Logger) *Binance {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binance{client: client, logger: logger}
}

func (b *Binance) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	stats, err := b.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.Ticker{}, errors.Wrapf(err, "fetch ticker for %s", symbol)
	}
	if len(stats) == 0 {
		return domain.Ticker{}, errors.Errorf("binance returned no ticker for %s", symbol)
	}

	s := stats[0]
	bid, err := decimal.NewFromString(s.BidPrice)
	if err != nil {
		return domain.Ticker{}, errors.Wrap(err, "parse bid price")
	}
	ask, err := decimal.NewFromString(s.AskPrice)
	if err != nil {
		return domain.Ticker{}, errors.Wrap(err, "parse ask price")
	}
	last, err := decimal.NewFromString(s.LastPrice)
	if err != nil {
		return domain.Ticker{}, errors.Wrap(err, "parse last price")
	}

	return domain.Ticker{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Last:      last,
		Timestamp: s.CloseTime,
	}, nil
}

func (b *Binance) GetTickers(ctx context.Context, symbols []string) (map[string]domain.Ticker, error) {
	tickers := make(map[string]domain.Ticker, len(symbols))
	for _, symbol := range symbols {
		ticker, err := b.GetTicker(ctx, symbol)
		if err != nil {
			return nil, err
		}
		tickers[symbol] = ticker
	}
	return tickers, nil
}

func (b *Binance) GetBalance(ctx context.Context, currency string) (domain.Balance, error) {
	balances, err := b.GetAllBalances(ctx)
	if err != nil {
		return domain.Balance{}, err
	}
	if balance, ok := balances[currency]; ok {
		return balance, nil
	}
	return domain.Balance{Currency: currency}, nil
}

func (b *Binance) GetAllBalances(ctx context.Context) (map[string]domain.Balance, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch binance account")
	}

	balances := make(map[string]domain.Balance, len(account.Balances))
	for _, asset := range account.Balances {
		free, err := decimal.NewFromString(asset.Free)
		if err != nil {
			return nil, errors.Wrapf(err, "parse free balance for %s", asset.Asset)
		}
		locked, err := decimal.NewFromString(asset.Locked)
		if err != nil {
			return nil, errors.Wrapf(err, "parse locked balance for %s", asset.Asset)
		}

		balances[asset.Asset] = domain.Balance{
			Currency: asset.Asset,
			Free:     free,
			Used:     locked,
			Total:    free.Add(locked),
		}
	}
	return balances, nil
}

func (b *Binance) CreateLimitOrder(ctx context.Context, symbol string, side domain.SignalType, amount, price decimal.Decimal) (domain.Order, error) {
	b.logger.Info("creating limit order",
		zap.String("symbol", symbol),
		zap.String("side", side.String()),
		zap.String("amount", amount.String()),
		zap.String("price", price.String()))

	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binanceSide(side)).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(amount.String()).
		Price(price.String()).
		Do(ctx)
	if err != nil {
		return domain.Order{}, errors.Wrap(err, "create limit order")
	}

	return orderFromCreateResponse(res, side, domain.OrderKindLimit, price, amount)
}

func (b *Binance) CreateMarketOrder(ctx context.Context, symbol string, side domain.SignalType, amount decimal.Decimal) (domain.Order, error) {
	b.logger.Info("creating market order",
		zap.String("symbol", symbol),
		zap.String("side", side.String()),
		zap.String("amount", amount.String()))

	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binanceSide(side)).
		Type(binance.OrderTypeMarket).
		Quantity(amount.String()).
		Do(ctx)
	if err != nil {
		return domain.Order{}, errors.Wrap(err, "create market order")
	}

	return orderFromCreateResponse(res, side, domain.OrderKindMarket, decimal.Zero, amount)
}

func (b *Binance) CancelOrder(ctx context.Context, orderID, symbol string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid binance order id %q", orderID)
	}

	_, err = b.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return errors.Wrapf(err, "cancel order %s", orderID)
	}
	return nil
}

func (b *Binance) GetOrder(ctx context.Context, orderID, symbol string) (domain.Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return domain.Order{}, errors.Wrapf(err, "invalid binance order id %q", orderID)
	}

	order, err := b.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return domain.Order{}, errors.Wrapf(err, "fetch order %s", orderID)
	}

	return orderFromBinance(order)
}

func (b *Binance) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	svc := b.client.NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}

	raw, err := svc.Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch open orders")
	}

	orders := make([]domain.Order, 0, len(raw))
	for _, o := range raw {
		order, err := orderFromBinance(o)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// GetKlines returns recent candles, newest last.
func (b *Binance) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch klines for %s", symbol)
	}

	candles := make([]domain.Candle, len(klines))
	for i, k := range klines {
		open, err := decimal.NewFromString(k.Open)
		if err != nil {
			return nil, errors.Wrapf(err, "parse open at index %d", i)
		}
		high, err := decimal.NewFromString(k.High)
		if err != nil {
			return nil, errors.Wrapf(err, "parse high at index %d", i)
		}
		low, err := decimal.NewFromString(k.Low)
		if err != nil {
			return nil, errors.Wrapf(err, "parse low at index %d", i)
		}
		closePrice, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, errors.Wrapf(err, "parse close at index %d", i)
		}
		volume, err := decimal.NewFromString(k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "parse volume at index %d", i)
		}

		candles[i] = domain.Candle{
			OpenTime:  time.UnixMilli(k.OpenTime),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: time.UnixMilli(k.CloseTime),
		}
	}
	return candles, nil
}

func binanceSide(side domain.SignalType) binance.SideType {
	if side == domain.SignalSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func orderStatus(status binance.OrderStatusType) domain.OrderStatus {
	switch status {
	case binance.OrderStatusTypeFilled:
		return domain.OrderStatusClosed
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		return domain.OrderStatusCanceled
	default:
		return domain.OrderStatusOpen
	}
}

func orderFromCreateResponse(res *binance.CreateOrderResponse, side domain.SignalType, kind domain.OrderKind, price, amount decimal.Decimal) (domain.Order, error) {
	filled, err := decimal.NewFromString(res.ExecutedQuantity)
	if err != nil {
		return domain.Order{}, errors.Wrap(err, "parse executed quantity")
	}

	// Market orders come back without a limit price. Derive the average fill
	// price from the quote volume when anything executed.
	if price.IsZero() && filled.IsPositive() {
		quoteQty, err := decimal.NewFromString(res.CummulativeQuoteQuantity)
		if err != nil {
			return domain.Order{}, errors.Wrap(err, "parse quote quantity")
		}
		price = quoteQty.Div(filled)
	}

	return domain.Order{
		ID:        strconv.FormatInt(res.OrderID, 10),
		Symbol:    res.Symbol,
		Side:      side,
		Kind:      kind,
		Price:     price,
		Amount:    amount,
		Filled:    filled,
		Status:    orderStatus(res.Status),
		Timestamp: res.TransactTime,
	}, nil
}

func orderFromBinance(o *binance.Order) (domain.Order, error) {
	price, err := decimal.NewFromString(o.Price)
	if err != nil {
		return domain.Order{}, errors.Wrap(err, "parse order price")
	}
	amount, err := decimal.NewFromString(o.OrigQuantity)
	if err != nil {
		return domain.Order{}, errors.Wrap(err, "parse order quantity")
	}
	filled, err := decimal.NewFromString(o.ExecutedQuantity)
	if err != nil {
		return domain.Order{}, errors.Wrap(err, "parse executed quantity")
	}

	side := domain.SignalBuy
	if o.Side == binance.SideTypeSell {
		side = domain.SignalSell
	}

	kind := domain.OrderKindLimit
	if o.Type == binance.OrderTypeMarket {
		kind = domain.OrderKindMarket
	}

	return domain.Order{
		ID:        strconv.FormatInt(o.OrderID, 10),
		Symbol:    o.Symbol,
		Side:      side,
		Kind:      kind,
		Price:     price,
		Amount:    amount,
		Filled:    filled,
		Status:    orderStatus(o.Status),
		Timestamp: o.Time,
	}, nil
}
