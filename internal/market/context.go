// Package market derives a lightweight technical snapshot (EMA and RSI) from
// recent candles. The snapshot is informational: it is logged each cycle so an
// operator can see trend and momentum next to the bot's decisions.
package market

import (
	"context"
	"fmt"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/rotor/internal/domain"
	"go.uber.org/zap"
)

const (
	snapshotInterval = "1h"
	snapshotCandles  = 50
	emaPeriod        = 20
	rsiPeriod        = 14
)

// KlineProvider supplies recent candles, newest last.
type KlineProvider interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
}

// Snapshot is the latest indicator reading for one symbol.
type Snapshot struct {
	Symbol string
	EMA20  decimal.Decimal
	RSI14  decimal.Decimal
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%s EMA20=%s RSI14=%s", s.Symbol, s.EMA20.StringFixed(2), s.RSI14.StringFixed(2))
}

// ContextService computes indicator snapshots from hourly candles.
type ContextService struct {
	klines KlineProvider
	logger *zap.Logger
}

func NewContextService(klines KlineProvider, logger *zap.Logger) *ContextService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextService{klines: klines, logger: logger}
}

// Snapshot fetches recent candles and computes the current EMA20 and RSI14.
func (c *ContextService) Snapshot(ctx context.Context, symbol string) (Snapshot, error) {
	candles, err := c.klines.GetKlines(ctx, symbol, snapshotInterval, snapshotCandles)
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "fetch candles for %s", symbol)
	}
	if len(candles) < rsiPeriod+1 || len(candles) < emaPeriod {
		return Snapshot{}, errors.Errorf("not enough candles for %s: got %d", symbol, len(candles))
	}

	closes := make([]float64, len(candles))
	for i, candle := range candles {
		closes[i] = candle.Close.InexactFloat64()
	}

	ema := helper.ChanToSlice(trend.NewEmaWithPeriod[float64](emaPeriod).Compute(helper.SliceToChan(closes)))
	rsi := helper.ChanToSlice(momentum.NewRsiWithPeriod[float64](rsiPeriod).Compute(helper.SliceToChan(closes)))

	if len(ema) == 0 || len(rsi) == 0 {
		return Snapshot{}, errors.Errorf("indicator computation produced no values for %s", symbol)
	}

	snap := Snapshot{
		Symbol: symbol,
		EMA20:  decimal.NewFromFloat(ema[len(ema)-1]),
		RSI14:  decimal.NewFromFloat(rsi[len(rsi)-1]),
	}

	c.logger.Debug("market context", zap.String("snapshot", snap.String()))
	return snap, nil
}
