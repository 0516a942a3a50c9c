// Package domain defines the core data structures shared by the trading bot components.
package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Pair is a cryptocurrency trading pair.
type Pair struct {
	// Base currency symbol, e.g. BTC.
	Base string
	// Quote currency symbol, e.g. USDT.
	Quote string
}

// String returns the underscore-separated representation, e.g. BTC_USDT.
func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.Base, p.Quote)
}

// Symbol returns the concatenated exchange symbol, e.g. BTCUSDT.
func (p Pair) Symbol() string {
	return p.Base + p.Quote
}

// TradingPair couples a pair with the exchange trading constraints it is
// traded under. Loaded from configuration and immutable afterwards.
type TradingPair struct {
	Pair            Pair
	MinOrderSize    decimal.Decimal
	PricePrecision  int32
	AmountPrecision int32
}

// Symbol returns the exchange symbol of the underlying pair.
func (t TradingPair) Symbol() string {
	return t.Pair.Symbol()
}

// RoundPrice rounds a price to the pair's price precision.
func (t TradingPair) RoundPrice(price decimal.Decimal) decimal.Decimal {
	return price.Round(t.PricePrecision)
}

// RoundAmount rounds an amount to the pair's amount precision.
func (t TradingPair) RoundAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(t.AmountPrecision)
}
