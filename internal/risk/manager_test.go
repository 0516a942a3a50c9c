package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/rotor/internal/domain"
	"go.uber.org/zap"
)

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func testConfig() Config {
	return Config{
		MaxRiskPerTradePct: dec(0.02),
		MaxDrawdownPct:     dec(0.10),
		StopLossPct:        dec(0.03),
		TakeProfitPct:      dec(0.05),
		DailyLossLimitPct:  dec(0.05),
	}
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m := NewManager(cfg, zap.NewNop())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	return m
}

func TestPeakNeverDecreases(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Initialize(dec(100))

	m.UpdatePortfolioValue(dec(120))
	assert.True(t, m.Snapshot().PeakPortfolioValue.Equal(dec(120)))

	m.UpdatePortfolioValue(dec(110))
	assert.True(t, m.Snapshot().PeakPortfolioValue.Equal(dec(120)))
}

func TestDrawdownPausesTrading(t *testing.T) {
	cfg := testConfig()
	cfg.DailyLossLimitPct = dec(0.50)
	m := newTestManager(t, cfg)
	m.Initialize(dec(100))

	m.UpdatePortfolioValue(dec(89))

	assert.True(t, m.Paused())
	assert.Contains(t, m.PauseReason(), "drawdown")
}

func TestDrawdownBelowLimitDoesNotPause(t *testing.T) {
	cfg := testConfig()
	cfg.DailyLossLimitPct = dec(0.50)
	m := newTestManager(t, cfg)
	m.Initialize(dec(100))

	m.UpdatePortfolioValue(dec(91))

	assert.False(t, m.Paused())
}

func TestDailyLossLimitPausesTrading(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Initialize(dec(100))

	m.UpdatePortfolioValue(dec(94))

	assert.True(t, m.Paused())
	assert.Contains(t, m.PauseReason(), "daily loss limit")
}

func TestDailyResetResumesDailyPause(t *testing.T) {
	m := newTestManager(t, testConfig())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	m.Initialize(dec(100))
	m.UpdatePortfolioValue(dec(94))
	require.True(t, m.Paused())

	now = base.Add(25 * time.Hour)
	m.UpdatePortfolioValue(dec(94))

	assert.False(t, m.Paused())
	assert.True(t, m.Snapshot().DailyStartingValue.Equal(dec(94)))
	assert.True(t, m.Snapshot().DailyPnL.IsZero())
}

func TestDailyResetDoesNotClearDrawdownPause(t *testing.T) {
	cfg := testConfig()
	cfg.DailyLossLimitPct = dec(0.50)
	m := newTestManager(t, cfg)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	m.Initialize(dec(100))
	m.UpdatePortfolioValue(dec(85))
	require.True(t, m.Paused())
	require.Contains(t, m.PauseReason(), "drawdown")

	now = base.Add(25 * time.Hour)
	m.UpdatePortfolioValue(dec(95))

	assert.True(t, m.Paused())
}

func TestResumeTradingRequiresRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.DailyLossLimitPct = dec(0.50)
	m := newTestManager(t, cfg)
	m.Initialize(dec(100))
	m.UpdatePortfolioValue(dec(89))
	require.True(t, m.Paused())

	// drawdown 8% is not strictly below the 8% recovery threshold
	m.UpdatePortfolioValue(dec(92))
	assert.False(t, m.ResumeTrading())
	assert.True(t, m.Paused())

	// drawdown 7% qualifies
	m.UpdatePortfolioValue(dec(93))
	assert.True(t, m.ResumeTrading())
	assert.False(t, m.Paused())
}

func TestResumeTradingAfterStrongRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.DailyLossLimitPct = dec(0.50)
	m := newTestManager(t, cfg)
	m.Initialize(dec(100))
	m.UpdatePortfolioValue(dec(89))
	require.True(t, m.Paused())

	m.UpdatePortfolioValue(dec(95.5))
	assert.True(t, m.ResumeTrading())
}

func TestForceResume(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Initialize(dec(100))
	m.UpdatePortfolioValue(dec(80))
	require.True(t, m.Paused())

	m.ForceResume()

	assert.False(t, m.Paused())
	assert.Empty(t, m.PauseReason())
}

func TestValidateSignalWhilePaused(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Initialize(dec(100))
	m.UpdatePortfolioValue(dec(80))
	require.True(t, m.Paused())

	sig := domain.Signal{
		Type:   domain.SignalBuy,
		Pair:   domain.Pair{Base: "BTC", Quote: "USDT"},
		Amount: dec(0.001),
		Kind:   domain.OrderKindMarket,
	}
	v := m.ValidateSignal(sig, nil, domain.Ticker{Last: dec(50000)})

	assert.False(t, v.OK)
	assert.Contains(t, v.Reason, "Trading paused:")
}

func TestValidateSignalRejectsOversizedTrade(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Initialize(dec(1000))

	sig := domain.Signal{
		Type:   domain.SignalBuy,
		Pair:   domain.Pair{Base: "BTC", Quote: "USDT"},
		Amount: dec(0.01),
		Price:  dec(50000),
		Kind:   domain.OrderKindLimit,
	}
	balances := map[string]domain.Balance{
		"USDT": {Currency: "USDT", Free: dec(1000)},
	}
	v := m.ValidateSignal(sig, balances, domain.Ticker{Last: dec(50000)})

	assert.False(t, v.OK)
	assert.Contains(t, v.Reason, "exceeds max")
}

func TestValidateSignalRejectsInsufficientQuoteBalance(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Initialize(dec(100000))

	sig := domain.Signal{
		Type:   domain.SignalBuy,
		Pair:   domain.Pair{Base: "BTC", Quote: "USDT"},
		Amount: dec(0.01),
		Price:  dec(50000),
		Kind:   domain.OrderKindLimit,
	}
	balances := map[string]domain.Balance{
		"USDT": {Currency: "USDT", Free: dec(100)},
	}
	v := m.ValidateSignal(sig, balances, domain.Ticker{Last: dec(50000)})

	assert.False(t, v.OK)
	assert.Contains(t, v.Reason, "insufficient USDT balance")
	assert.Contains(t, v.Reason, "need $500.00")
	assert.Contains(t, v.Reason, "have $100.00")
}

func TestValidateSignalRejectsInsufficientBaseBalance(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Initialize(dec(100000))

	sig := domain.Signal{
		Type:   domain.SignalSell,
		Pair:   domain.Pair{Base: "BTC", Quote: "USDT"},
		Amount: dec(0.02),
		Price:  dec(50000),
		Kind:   domain.OrderKindLimit,
	}
	balances := map[string]domain.Balance{
		"BTC": {Currency: "BTC", Free: dec(0.01)},
	}
	v := m.ValidateSignal(sig, balances, domain.Ticker{Last: dec(50000)})

	assert.False(t, v.OK)
	assert.Contains(t, v.Reason, "insufficient BTC balance")
}

func TestValidateSignalAccepts(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Initialize(dec(100000))

	sig := domain.Signal{
		Type:   domain.SignalBuy,
		Pair:   domain.Pair{Base: "BTC", Quote: "USDT"},
		Amount: dec(0.01),
		Price:  dec(50000),
		Kind:   domain.OrderKindLimit,
	}
	balances := map[string]domain.Balance{
		"USDT": {Currency: "USDT", Free: dec(10000)},
	}
	v := m.ValidateSignal(sig, balances, domain.Ticker{Last: dec(50000)})

	assert.True(t, v.OK)
	assert.Equal(t, "OK", v.Reason)
}

func TestValidateSignalUsesTickerPriceForMarketOrders(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Initialize(dec(1000))

	sig := domain.Signal{
		Type:   domain.SignalBuy,
		Pair:   domain.Pair{Base: "BTC", Quote: "USDT"},
		Amount: dec(0.01),
		Kind:   domain.OrderKindMarket,
	}
	balances := map[string]domain.Balance{
		"USDT": {Currency: "USDT", Free: dec(1000)},
	}
	v := m.ValidateSignal(sig, balances, domain.Ticker{Last: dec(50000)})

	assert.False(t, v.OK)
	assert.Contains(t, v.Reason, "$500.00")
}

func TestPositionSize(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Initialize(dec(10000))

	size := m.PositionSize(dec(100), dec(95))
	assert.True(t, size.Equal(dec(40)), "got %s", size)

	assert.True(t, m.PositionSize(dec(100), dec(100)).IsZero())
}

func TestStopLossAndTakeProfitPrices(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Initialize(dec(10000))

	assert.True(t, m.StopLossPrice(dec(100), domain.SignalBuy).Equal(dec(97)))
	assert.True(t, m.StopLossPrice(dec(100), domain.SignalSell).Equal(dec(103)))
	assert.True(t, m.TakeProfitPrice(dec(100), domain.SignalBuy).Equal(dec(105)))
	assert.True(t, m.TakeProfitPrice(dec(100), domain.SignalSell).Equal(dec(95)))
}

func TestStateRoundTrip(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Initialize(dec(100))
	m.UpdatePortfolioValue(dec(89))
	require.True(t, m.Paused())

	raw, err := m.StateJSON()
	require.NoError(t, err)

	restored := newTestManager(t, testConfig())
	require.NoError(t, restored.RestoreState(raw))

	assert.Equal(t, m.Snapshot(), restored.Snapshot())
	assert.True(t, restored.Paused())
	assert.True(t, restored.Initialized())
}
