// Package strategy contains the trading strategies evaluated each cycle by the
// bot. Strategies are pure decision makers: they emit signals and never touch
// the exchange directly, except where a fill reaction needs a fresh price.
package strategy

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/rotor/internal/domain"
)

// Strategy evaluates market data into trade signals. Implementations keep
// their own state and expose it for persistence across restarts.
type Strategy interface {
	Name() string

	// Evaluate inspects the ticker and balances for one pair and returns
	// zero or more signals. Tickers for other symbols are ignored.
	Evaluate(ctx context.Context, ticker domain.Ticker, balances map[string]domain.Balance) ([]domain.Signal, error)

	// OnOrderFilled reacts to one of the strategy's own orders being filled
	// and may emit follow-up signals.
	OnOrderFilled(ctx context.Context, order domain.Order) ([]domain.Signal, error)

	StateJSON() (json.RawMessage, error)
	RestoreState(raw json.RawMessage) error
}

// OrderAssociator is implemented by strategies that track their open orders
// and need to learn the exchange order id after submission.
type OrderAssociator interface {
	AssociateOrder(price decimal.Decimal, orderID string)
}

// FillRecorder is implemented by strategies that account for completed buys.
type FillRecorder interface {
	RecordBuy(price, amount decimal.Decimal)
}

// TickerSource provides a current ticker, used by strategies that need a fresh
// price while reacting to a fill.
type TickerSource interface {
	GetTicker(ctx context.Context, symbol string) (domain.Ticker, error)
}
