package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/rotor/internal/domain"
)

func dcaConfig() DCAConfig {
	return DCAConfig{
		BuyIntervalHours:    24,
		BuyAmountPct:        dec(0.02),
		PriceDropTriggerPct: dec(0.03),
		MaxBuysPerDay:       3,
	}
}

func newTestDCA(t *testing.T, start time.Time) (*DCA, *time.Time) {
	t.Helper()
	d := NewDCA(dcaConfig(), btcPair(), nil)
	now := start
	d.now = func() time.Time { return now }
	return d, &now
}

func TestDCAFirstBuyIsScheduled(t *testing.T) {
	d, _ := newTestDCA(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	signals, err := d.Evaluate(context.Background(), domain.Ticker{Symbol: "BTCUSDT", Last: dec(50000)}, balancesWithQuote(10000))
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, domain.SignalBuy, sig.Type)
	assert.Equal(t, domain.OrderKindMarket, sig.Kind)
	assert.True(t, sig.Price.IsZero())
	assert.Contains(t, sig.Reason, "Scheduled DCA buy")
	// 2% of 10000 USDT at 50000 = 0.004 BTC
	assert.True(t, sig.Amount.Equal(dec(0.004)), "got %s", sig.Amount)
}

func TestDCAWaitsForInterval(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d, now := newTestDCA(t, start)
	d.RecordBuy(dec(50000), dec(0.004))

	*now = start.Add(12 * time.Hour)
	signals, err := d.Evaluate(context.Background(), domain.Ticker{Symbol: "BTCUSDT", Last: dec(50000)}, balancesWithQuote(10000))
	require.NoError(t, err)
	assert.Empty(t, signals)

	*now = start.Add(25 * time.Hour)
	signals, err = d.Evaluate(context.Background(), domain.Ticker{Symbol: "BTCUSDT", Last: dec(50000)}, balancesWithQuote(10000))
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Contains(t, signals[0].Reason, "Scheduled")
}

func TestDCAPriceDropTriggersExtraBuy(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d, now := newTestDCA(t, start)
	d.RecordBuy(dec(50000), dec(0.004))

	*now = start.Add(1 * time.Hour)

	// 2% drop is below the 3% trigger
	signals, err := d.Evaluate(context.Background(), domain.Ticker{Symbol: "BTCUSDT", Last: dec(49000)}, balancesWithQuote(10000))
	require.NoError(t, err)
	assert.Empty(t, signals)

	// 4% drop triggers
	signals, err = d.Evaluate(context.Background(), domain.Ticker{Symbol: "BTCUSDT", Last: dec(48000)}, balancesWithQuote(10000))
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Contains(t, signals[0].Reason, "Price drop DCA buy")
	assert.Contains(t, signals[0].Reason, "4.0%")
}

func TestDCADailyBuyLimit(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d, now := newTestDCA(t, start)

	for i := 0; i < 3; i++ {
		d.RecordBuy(dec(50000), dec(0.004))
	}

	// interval elapsed but the daily cap holds
	*now = start.Add(25 * time.Hour).Add(-2 * time.Hour)
	signals, err := d.Evaluate(context.Background(), domain.Ticker{Symbol: "BTCUSDT", Last: dec(50000)}, balancesWithQuote(10000))
	require.NoError(t, err)
	assert.Empty(t, signals)

	// a day later the counter resets
	*now = start.Add(25 * time.Hour)
	signals, err = d.Evaluate(context.Background(), domain.Ticker{Symbol: "BTCUSDT", Last: dec(50000)}, balancesWithQuote(10000))
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestDCAAveragePrice(t *testing.T) {
	d, _ := newTestDCA(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	d.RecordBuy(dec(100), dec(1))
	d.RecordBuy(dec(120), dec(1))

	assert.True(t, d.AveragePrice().Equal(dec(110)), "got %s", d.AveragePrice())
}

func TestDCAIgnoresOtherSymbols(t *testing.T) {
	d, _ := newTestDCA(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	signals, err := d.Evaluate(context.Background(), domain.Ticker{Symbol: "ETHUSDT", Last: dec(3000)}, balancesWithQuote(10000))
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestDCASkipsTinyBuys(t *testing.T) {
	d, _ := newTestDCA(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	// 2% of 1 USDT at 50000 rounds below min order size
	signals, err := d.Evaluate(context.Background(), domain.Ticker{Symbol: "BTCUSDT", Last: dec(50000)}, balancesWithQuote(1))
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestDCAStateRoundTrip(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d, _ := newTestDCA(t, start)
	d.RecordBuy(dec(100), dec(2))

	raw, err := d.StateJSON()
	require.NoError(t, err)

	restored, now := newTestDCA(t, start)
	require.NoError(t, restored.RestoreState(raw))

	assert.True(t, restored.AveragePrice().Equal(dec(100)))

	// restored buy count still blocks further buys today after two more
	restored.RecordBuy(dec(100), dec(1))
	restored.RecordBuy(dec(100), dec(1))
	*now = start.Add(2 * time.Hour)
	signals, err := restored.Evaluate(context.Background(), domain.Ticker{Symbol: "BTCUSDT", Last: dec(95)}, balancesWithQuote(10000))
	require.NoError(t, err)
	assert.Empty(t, signals)
}
