package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SignalType is the direction a strategy proposes to trade in.
type SignalType int

const (
	SignalHold SignalType = iota
	SignalBuy
	SignalSell
)

// String returns the exchange-side representation of the signal type.
func (s SignalType) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "hold"
	}
}

// OrderKind distinguishes market from limit orders.
type OrderKind int

const (
	OrderKindMarket OrderKind = iota
	OrderKindLimit
)

// String returns the exchange-side representation of the order kind.
func (k OrderKind) String() string {
	if k == OrderKindLimit {
		return "limit"
	}
	return "market"
}

// Signal is a strategy's proposed trade before risk validation. Signals are
// produced fresh on every evaluation and never persisted directly.
type Signal struct {
	Type SignalType
	Pair Pair
	// Price is the limit price; zero means market order.
	Price  decimal.Decimal
	Amount decimal.Decimal
	Kind   OrderKind
	Reason string
}

// String returns a human-readable summary of the signal.
func (s Signal) String() string {
	return fmt.Sprintf("%s %s %s %s (%s)", s.Type, s.Amount.String(), s.Pair.Symbol(), s.Kind, s.Reason)
}
