package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker is a point-in-time market quote for a symbol.
type Ticker struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last decimal.Decimal
	// Timestamp is the quote time in unix milliseconds.
	Timestamp int64
}

// Balance is a per-currency account balance.
type Balance struct {
	Currency string
	Free     decimal.Decimal
	Used     decimal.Decimal
	Total    decimal.Decimal
}

// Candle is a single OHLCV kline.
type Candle struct {
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime time.Time
}
