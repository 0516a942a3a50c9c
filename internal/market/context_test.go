package market

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/rotor/internal/domain"
)

type fakeKlines struct {
	candles []domain.Candle
}

func (f *fakeKlines) GetKlines(context.Context, string, string, int) ([]domain.Candle, error) {
	return f.candles, nil
}

func candlesAround(base float64, n int) []domain.Candle {
	candles := make([]domain.Candle, n)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		// oscillate so both gains and losses feed the RSI
		price := base + float64(i%5) - 2
		candles[i] = domain.Candle{
			OpenTime:  start.Add(time.Duration(i) * time.Hour),
			Open:      decimal.NewFromFloat(price),
			High:      decimal.NewFromFloat(price + 1),
			Low:       decimal.NewFromFloat(price - 1),
			Close:     decimal.NewFromFloat(price),
			Volume:    decimal.NewFromInt(100),
			CloseTime: start.Add(time.Duration(i+1) * time.Hour),
		}
	}
	return candles
}

func TestSnapshotComputesIndicators(t *testing.T) {
	svc := NewContextService(&fakeKlines{candles: candlesAround(100, 50)}, nil)

	snap, err := svc.Snapshot(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", snap.Symbol)
	// prices oscillate around 100, so the EMA stays close
	assert.True(t, snap.EMA20.GreaterThan(decimal.NewFromInt(90)), "got %s", snap.EMA20)
	assert.True(t, snap.EMA20.LessThan(decimal.NewFromInt(110)), "got %s", snap.EMA20)
	assert.True(t, snap.RSI14.GreaterThanOrEqual(decimal.Zero))
	assert.True(t, snap.RSI14.LessThanOrEqual(decimal.NewFromInt(100)))
}

func TestSnapshotRequiresEnoughCandles(t *testing.T) {
	svc := NewContextService(&fakeKlines{candles: candlesAround(100, 5)}, nil)

	_, err := svc.Snapshot(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}
