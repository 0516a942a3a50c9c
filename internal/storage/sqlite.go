// Package storage persists orders, trades, portfolio snapshots and bot state
// to SQLite. Monetary aggregates live in REAL columns for ad-hoc queries;
// exact state that must round-trip lives in JSON blobs.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/rotor/internal/domain"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}

	store := &Store{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			price REAL,
			amount REAL NOT NULL,
			filled REAL DEFAULT 0,
			status TEXT NOT NULL,
			strategy TEXT,
			created_at REAL NOT NULL,
			updated_at REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			amount REAL NOT NULL,
			value REAL NOT NULL,
			fee REAL DEFAULT 0,
			strategy TEXT,
			timestamp REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS portfolio_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp REAL NOT NULL,
			total_value_usd REAL NOT NULL,
			balances_json TEXT NOT NULL,
			prices_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS bot_state (
			key TEXT PRIMARY KEY,
			value_json TEXT NOT NULL,
			updated_at REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS strategy_state (
			strategy_name TEXT PRIMARY KEY,
			state_json TEXT NOT NULL,
			updated_at REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON portfolio_snapshots(timestamp);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}

func (s *Store) unixNow() float64 {
	return float64(s.now().UnixNano()) / float64(time.Second)
}

// SaveOrder inserts an order or, when the id exists, refreshes its status.
func (s *Store) SaveOrder(ctx context.Context, order domain.Order, strategy string) error {
	now := s.unixNow()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, symbol, side, type, price, amount, filled, status, strategy, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			filled = excluded.filled,
			updated_at = excluded.updated_at`,
		order.ID, order.Symbol, order.Side.String(), order.Kind.String(),
		order.Price.InexactFloat64(), order.Amount.InexactFloat64(), order.Filled.InexactFloat64(),
		string(order.Status), strategy, now, now)
	return errors.Wrap(err, "save order")
}

// UpdateOrderStatus marks an order with a new status and fill amount.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, filled decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, filled = ?, updated_at = ? WHERE id = ?`,
		string(status), filled.InexactFloat64(), s.unixNow(), orderID)
	return errors.Wrap(err, "update order status")
}

// OrderRecord pairs a stored order with the strategy that placed it.
type OrderRecord struct {
	Order    domain.Order
	Strategy string
}

// OpenOrders returns all orders still marked open.
func (s *Store) OpenOrders(ctx context.Context) ([]OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, symbol, side, type, price, amount, filled, status, strategy, created_at
		 FROM orders WHERE status = 'open'`)
	if err != nil {
		return nil, errors.Wrap(err, "query open orders")
	}
	defer rows.Close()

	var records []OrderRecord
	for rows.Next() {
		var (
			rec                   OrderRecord
			side, kind, status    string
			price, amount, filled float64
			strategy              sql.NullString
			createdAt             float64
		)
		if err := rows.Scan(&rec.Order.ID, &rec.Order.Symbol, &side, &kind,
			&price, &amount, &filled, &status, &strategy, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan order")
		}

		rec.Order.Side = sideFromString(side)
		rec.Order.Kind = kindFromString(kind)
		rec.Order.Price = decimal.NewFromFloat(price)
		rec.Order.Amount = decimal.NewFromFloat(amount)
		rec.Order.Filled = decimal.NewFromFloat(filled)
		rec.Order.Status = domain.OrderStatus(status)
		rec.Order.Timestamp = int64(createdAt * 1000)
		rec.Strategy = strategy.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Trade is one completed fill.
type Trade struct {
	OrderID  string
	Symbol   string
	Side     domain.SignalType
	Price    decimal.Decimal
	Amount   decimal.Decimal
	Fee      decimal.Decimal
	Strategy string
}

// SaveTrade records a completed trade. Value is derived as price times amount.
func (s *Store) SaveTrade(ctx context.Context, trade Trade) error {
	value := trade.Price.Mul(trade.Amount)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (order_id, symbol, side, price, amount, value, fee, strategy, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.OrderID, trade.Symbol, trade.Side.String(),
		trade.Price.InexactFloat64(), trade.Amount.InexactFloat64(), value.InexactFloat64(),
		trade.Fee.InexactFloat64(), trade.Strategy, s.unixNow())
	return errors.Wrap(err, "save trade")
}

// SavePortfolioSnapshot appends the current portfolio valuation.
func (s *Store) SavePortfolioSnapshot(ctx context.Context, totalValue decimal.Decimal, balances map[string]domain.Balance, prices map[string]decimal.Decimal) error {
	balancesJSON, err := json.Marshal(balances)
	if err != nil {
		return errors.Wrap(err, "marshal balances")
	}
	pricesJSON, err := json.Marshal(prices)
	if err != nil {
		return errors.Wrap(err, "marshal prices")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO portfolio_snapshots (timestamp, total_value_usd, balances_json, prices_json)
		VALUES (?, ?, ?, ?)`,
		s.unixNow(), totalValue.InexactFloat64(), string(balancesJSON), string(pricesJSON))
	return errors.Wrap(err, "save portfolio snapshot")
}

// SaveBotState upserts one keyed state blob.
func (s *Store) SaveBotState(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_state (key, value_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at`,
		key, string(value), s.unixNow())
	return errors.Wrap(err, "save bot state")
}

// BotState returns the stored blob for key, or nil when absent.
func (s *Store) BotState(ctx context.Context, key string) (json.RawMessage, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value_json FROM bot_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get bot state")
	}
	return json.RawMessage(value), nil
}

// SaveStrategyState upserts one strategy's state blob.
func (s *Store) SaveStrategyState(ctx context.Context, name string, state json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategy_state (strategy_name, state_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(strategy_name) DO UPDATE SET
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`,
		name, string(state), s.unixNow())
	return errors.Wrap(err, "save strategy state")
}

// StrategyState returns the stored blob for a strategy, or nil when absent.
func (s *Store) StrategyState(ctx context.Context, name string) (json.RawMessage, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM strategy_state WHERE strategy_name = ?`, name).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get strategy state")
	}
	return json.RawMessage(state), nil
}

// PerformanceStats summarizes trading activity over a trailing window.
type PerformanceStats struct {
	PeriodDays    int
	TotalTrades   int
	TotalBought   decimal.Decimal
	TotalSold     decimal.Decimal
	TotalFees     decimal.Decimal
	StartingValue decimal.Decimal
	EndingValue   decimal.Decimal
	PnL           decimal.Decimal
	PnLPct        decimal.Decimal
}

// GetPerformanceStats aggregates trades and portfolio change over the last
// given number of days.
func (s *Store) GetPerformanceStats(ctx context.Context, days int) (PerformanceStats, error) {
	since := s.unixNow() - float64(days*86400)
	stats := PerformanceStats{PeriodDays: days}

	var bought, sold, fees float64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN side = 'buy' THEN value ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN side = 'sell' THEN value ELSE 0 END), 0),
			COALESCE(SUM(fee), 0)
		FROM trades WHERE timestamp >= ?`, since).
		Scan(&stats.TotalTrades, &bought, &sold, &fees)
	if err != nil {
		return stats, errors.Wrap(err, "query trade stats")
	}
	stats.TotalBought = decimal.NewFromFloat(bought)
	stats.TotalSold = decimal.NewFromFloat(sold)
	stats.TotalFees = decimal.NewFromFloat(fees)

	var startValue float64
	err = s.db.QueryRowContext(ctx, `
		SELECT total_value_usd FROM portfolio_snapshots
		WHERE timestamp >= ? ORDER BY timestamp ASC LIMIT 1`, since).Scan(&startValue)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return stats, errors.Wrap(err, "query starting value")
	}

	var endValue float64
	err = s.db.QueryRowContext(ctx, `
		SELECT total_value_usd FROM portfolio_snapshots
		ORDER BY timestamp DESC LIMIT 1`).Scan(&endValue)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return stats, errors.Wrap(err, "query ending value")
	}

	stats.StartingValue = decimal.NewFromFloat(startValue)
	stats.EndingValue = decimal.NewFromFloat(endValue)
	if startValue > 0 {
		stats.PnL = stats.EndingValue.Sub(stats.StartingValue)
		stats.PnLPct = stats.PnL.Div(stats.StartingValue).Mul(decimal.NewFromInt(100))
	} else {
		stats.PnL = decimal.Zero
		stats.PnLPct = decimal.Zero
	}

	return stats, nil
}

func sideFromString(s string) domain.SignalType {
	if s == "sell" {
		return domain.SignalSell
	}
	return domain.SignalBuy
}

func kindFromString(s string) domain.OrderKind {
	if s == "market" {
		return domain.OrderKindMarket
	}
	return domain.OrderKindLimit
}
