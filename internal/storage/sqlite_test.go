package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/rotor/internal/domain"
)

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveOrderUpsertsOnConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	order := domain.Order{
		ID:     "ord-1",
		Symbol: "BTCUSDT",
		Side:   domain.SignalBuy,
		Kind:   domain.OrderKindLimit,
		Price:  dec(95),
		Amount: dec(1),
		Status: domain.OrderStatusOpen,
	}
	require.NoError(t, store.SaveOrder(ctx, order, "Grid(BTCUSDT)"))

	open, err := store.OpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "ord-1", open[0].Order.ID)
	assert.Equal(t, "Grid(BTCUSDT)", open[0].Strategy)
	assert.Equal(t, domain.SignalBuy, open[0].Order.Side)
	assert.Equal(t, domain.OrderKindLimit, open[0].Order.Kind)

	order.Status = domain.OrderStatusClosed
	order.Filled = dec(1)
	require.NoError(t, store.SaveOrder(ctx, order, "Grid(BTCUSDT)"))

	open, err = store.OpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestUpdateOrderStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	order := domain.Order{
		ID:     "ord-2",
		Symbol: "ETHUSDT",
		Side:   domain.SignalSell,
		Kind:   domain.OrderKindLimit,
		Price:  dec(3000),
		Amount: dec(2),
		Status: domain.OrderStatusOpen,
	}
	require.NoError(t, store.SaveOrder(ctx, order, ""))
	require.NoError(t, store.UpdateOrderStatus(ctx, "ord-2", domain.OrderStatusClosed, dec(2)))

	open, err := store.OpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestBotStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	missing, err := store.BotState(ctx, "risk_manager")
	require.NoError(t, err)
	assert.Nil(t, missing)

	state := json.RawMessage(`{"peak_portfolio_value":"120","is_paused":false}`)
	require.NoError(t, store.SaveBotState(ctx, "risk_manager", state))

	got, err := store.BotState(ctx, "risk_manager")
	require.NoError(t, err)
	assert.JSONEq(t, string(state), string(got))

	// upsert replaces
	updated := json.RawMessage(`{"peak_portfolio_value":"130","is_paused":true}`)
	require.NoError(t, store.SaveBotState(ctx, "risk_manager", updated))

	got, err = store.BotState(ctx, "risk_manager")
	require.NoError(t, err)
	assert.JSONEq(t, string(updated), string(got))
}

func TestStrategyStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	missing, err := store.StrategyState(ctx, "Grid(BTCUSDT)")
	require.NoError(t, err)
	assert.Nil(t, missing)

	state := json.RawMessage(`{"initialized":true,"base_price":"100"}`)
	require.NoError(t, store.SaveStrategyState(ctx, "Grid(BTCUSDT)", state))

	got, err := store.StrategyState(ctx, "Grid(BTCUSDT)")
	require.NoError(t, err)
	assert.JSONEq(t, string(state), string(got))
}

func TestPerformanceStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SavePortfolioSnapshot(ctx, dec(1000),
		map[string]domain.Balance{"USDT": {Currency: "USDT", Free: dec(1000)}},
		map[string]decimal.Decimal{}))

	require.NoError(t, store.SaveTrade(ctx, Trade{
		OrderID: "ord-1", Symbol: "BTCUSDT", Side: domain.SignalBuy,
		Price: dec(100), Amount: dec(2), Strategy: "DCA(BTCUSDT)",
	}))
	require.NoError(t, store.SaveTrade(ctx, Trade{
		OrderID: "ord-2", Symbol: "BTCUSDT", Side: domain.SignalSell,
		Price: dec(110), Amount: dec(1), Strategy: "Grid(BTCUSDT)",
	}))

	require.NoError(t, store.SavePortfolioSnapshot(ctx, dec(1100),
		map[string]domain.Balance{"USDT": {Currency: "USDT", Free: dec(1100)}},
		map[string]decimal.Decimal{}))

	stats, err := store.GetPerformanceStats(ctx, 30)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalTrades)
	assert.True(t, stats.TotalBought.Equal(dec(200)), "got %s", stats.TotalBought)
	assert.True(t, stats.TotalSold.Equal(dec(110)), "got %s", stats.TotalSold)
	assert.True(t, stats.StartingValue.Equal(dec(1000)))
	assert.True(t, stats.EndingValue.Equal(dec(1100)))
	assert.True(t, stats.PnL.Equal(dec(100)))
	assert.True(t, stats.PnLPct.Equal(dec(10)))
}

func TestPerformanceStatsEmptyDatabase(t *testing.T) {
	store := newTestStore(t)

	stats, err := store.GetPerformanceStats(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.TotalTrades)
	assert.True(t, stats.PnL.IsZero())
	assert.True(t, stats.PnLPct.IsZero())
}
