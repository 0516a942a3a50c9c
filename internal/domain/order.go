package domain

import (
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an exchange order.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusClosed   OrderStatus = "closed"
	OrderStatusCanceled OrderStatus = "canceled"
)

// Order is an order as reported by the exchange.
type Order struct {
	ID     string
	Symbol string
	Side   SignalType
	Kind   OrderKind
	// Price is zero for market orders.
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Filled    decimal.Decimal
	Status OrderStatus
	// Timestamp is the exchange creation time in unix milliseconds.
	Timestamp int64
}
