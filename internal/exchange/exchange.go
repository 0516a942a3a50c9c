// Package exchange holds the venue connectors: a live Binance client, a Bybit
// market-data source and an in-memory paper engine for simulated trading.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/rotor/internal/domain"
)

// Exchange is the venue contract the bot trades against. The paper engine and
// the live Binance connector both satisfy it.
type Exchange interface {
	GetTicker(ctx context.Context, symbol string) (domain.Ticker, error)
	GetTickers(ctx context.Context, symbols []string) (map[string]domain.Ticker, error)
	GetBalance(ctx context.Context, currency string) (domain.Balance, error)
	GetAllBalances(ctx context.Context) (map[string]domain.Balance, error)
	CreateLimitOrder(ctx context.Context, symbol string, side domain.SignalType, amount, price decimal.Decimal) (domain.Order, error)
	CreateMarketOrder(ctx context.Context, symbol string, side domain.SignalType, amount decimal.Decimal) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	GetOrder(ctx context.Context, orderID, symbol string) (domain.Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error)
}

// MarketData is the read-only price feed. The paper engine consumes one to
// price its simulated fills.
type MarketData interface {
	GetTicker(ctx context.Context, symbol string) (domain.Ticker, error)
}
