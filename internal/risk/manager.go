// Package risk enforces portfolio-level limits: drawdown and daily-loss circuit
// breakers plus per-trade validation against balance and position-size caps.
package risk

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/rotor/internal/domain"
	"go.uber.org/zap"
)

const secondsPerDay = 86400

// recoveryFactor is the fraction of the drawdown limit the portfolio must
// recover below before a manual resume is allowed.
var recoveryFactor = decimal.NewFromFloat(0.8)

// Config holds the risk limits. All percentages are fractions (0.02 = 2%).
type Config struct {
	MaxRiskPerTradePct decimal.Decimal
	MaxDrawdownPct     decimal.Decimal
	StopLossPct        decimal.Decimal
	TakeProfitPct      decimal.Decimal
	DailyLossLimitPct  decimal.Decimal
}

// State is the persisted risk bookkeeping. The full struct round-trips through
// JSON so a restarted process reproduces identical decisions.
type State struct {
	InitialPortfolioValue decimal.Decimal `json:"initial_portfolio_value"`
	PeakPortfolioValue    decimal.Decimal `json:"peak_portfolio_value"`
	CurrentPortfolioValue decimal.Decimal `json:"current_portfolio_value"`
	DailyStartingValue    decimal.Decimal `json:"daily_starting_value"`
	DailyPnL              decimal.Decimal `json:"daily_pnl"`
	DayStartUnix          int64           `json:"day_start_timestamp"`
	Paused                bool            `json:"is_paused"`
	PauseReason           string          `json:"pause_reason"`
}

// Verdict is the outcome of validating a signal. A rejected signal is an
// expected outcome, not an error.
type Verdict struct {
	OK     bool
	Reason string
}

func accept() Verdict {
	return Verdict{OK: true, Reason: "OK"}
}

func reject(format string, args ...any) Verdict {
	return Verdict{OK: false, Reason: fmt.Sprintf(format, args...)}
}

// Manager tracks portfolio value over time and validates every proposed trade.
// It is driven by a single goroutine (the cycle orchestrator) and holds no locks.
type Manager struct {
	cfg    Config
	state  State
	logger *zap.Logger
	now    func() time.Time
}

// NewManager returns a risk manager with empty state. Call Initialize once when
// no persisted state exists.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Initialized reports whether the manager carries a starting portfolio value.
// A zero initial value means the manager has never been initialized.
func (m *Manager) Initialized() bool {
	return !m.state.InitialPortfolioValue.IsZero()
}

// Initialize sets the starting portfolio value and resets the daily timer.
func (m *Manager) Initialize(portfolioValue decimal.Decimal) {
	m.state.InitialPortfolioValue = portfolioValue
	m.state.PeakPortfolioValue = portfolioValue
	m.state.CurrentPortfolioValue = portfolioValue
	m.state.DailyStartingValue = portfolioValue
	m.state.DayStartUnix = m.now().Unix()

	m.logger.Info("risk manager initialized",
		zap.String("portfolio_value", portfolioValue.StringFixed(2)))
}

// UpdatePortfolioValue records the current portfolio value, raises the peak if
// exceeded, rolls the daily window and evaluates both circuit breakers.
func (m *Manager) UpdatePortfolioValue(value decimal.Decimal) {
	m.state.CurrentPortfolioValue = value

	if value.GreaterThan(m.state.PeakPortfolioValue) {
		m.state.PeakPortfolioValue = value
	}

	m.checkDailyReset()

	m.state.DailyPnL = value.Sub(m.state.DailyStartingValue)

	m.checkDrawdown()
	m.checkDailyLossLimit()
}

// checkDailyReset rolls the daily window when 86400 seconds have elapsed since
// the last reset. The window is rolling, not midnight-aligned.
func (m *Manager) checkDailyReset() {
	if m.now().Unix()-m.state.DayStartUnix < secondsPerDay {
		return
	}

	m.state.DailyStartingValue = m.state.CurrentPortfolioValue
	m.state.DayStartUnix = m.now().Unix()
	m.state.DailyPnL = decimal.Zero

	if m.state.Paused && strings.Contains(strings.ToLower(m.state.PauseReason), "daily") {
		m.state.Paused = false
		m.state.PauseReason = ""
		m.logger.Info("new day, daily loss limit reset, trading resumed")
	}
}

func (m *Manager) checkDrawdown() {
	if m.state.PeakPortfolioValue.IsZero() {
		return
	}

	drawdown := m.Drawdown()
	if drawdown.GreaterThanOrEqual(m.cfg.MaxDrawdownPct) {
		m.state.Paused = true
		m.state.PauseReason = fmt.Sprintf("max drawdown exceeded: %s >= %s",
			formatPct(drawdown), formatPct(m.cfg.MaxDrawdownPct))
		m.logger.Warn("TRADING PAUSED", zap.String("reason", m.state.PauseReason))
	}
}

func (m *Manager) checkDailyLossLimit() {
	if m.state.DailyStartingValue.IsZero() {
		return
	}

	dailyLossPct := m.state.DailyPnL.Neg().Div(m.state.DailyStartingValue)
	if dailyLossPct.GreaterThanOrEqual(m.cfg.DailyLossLimitPct) {
		m.state.Paused = true
		m.state.PauseReason = fmt.Sprintf("daily loss limit exceeded: %s >= %s",
			formatPct(dailyLossPct), formatPct(m.cfg.DailyLossLimitPct))
		m.logger.Warn("TRADING PAUSED", zap.String("reason", m.state.PauseReason))
	}
}

// ValidateSignal checks a proposed trade against the pause flag, the per-trade
// notional cap and free balances. Fails closed while paused.
func (m *Manager) ValidateSignal(sig domain.Signal, balances map[string]domain.Balance, ticker domain.Ticker) Verdict {
	if m.state.Paused {
		return reject("Trading paused: %s", m.state.PauseReason)
	}

	price := sig.Price
	if price.IsZero() {
		price = ticker.Last
	}
	notional := sig.Amount.Mul(price)

	maxNotional := m.state.CurrentPortfolioValue.Mul(m.cfg.MaxRiskPerTradePct)
	if notional.GreaterThan(maxNotional) {
		return reject("trade value $%s exceeds max $%s (%s of portfolio)",
			notional.StringFixed(2), maxNotional.StringFixed(2), formatPct(m.cfg.MaxRiskPerTradePct))
	}

	switch sig.Type {
	case domain.SignalBuy:
		quote, ok := balances[sig.Pair.Quote]
		if !ok || quote.Free.LessThan(notional) {
			return reject("insufficient %s balance: need $%s, have $%s",
				sig.Pair.Quote, notional.StringFixed(2), quote.Free.StringFixed(2))
		}
	case domain.SignalSell:
		base, ok := balances[sig.Pair.Base]
		if !ok || base.Free.LessThan(sig.Amount) {
			return reject("insufficient %s balance: need %s, have %s",
				sig.Pair.Base, sig.Amount.String(), base.Free.String())
		}
	}

	return accept()
}

// PositionSize returns risk amount divided by the entry/stop distance. A zero
// distance yields zero, not an error.
func (m *Manager) PositionSize(entryPrice, stopLossPrice decimal.Decimal) decimal.Decimal {
	priceRisk := entryPrice.Sub(stopLossPrice).Abs()
	if priceRisk.IsZero() {
		return decimal.Zero
	}

	riskAmount := m.state.CurrentPortfolioValue.Mul(m.cfg.MaxRiskPerTradePct)
	return riskAmount.Div(priceRisk)
}

// StopLossPrice offsets the entry price by the configured stop-loss percentage.
func (m *Manager) StopLossPrice(entryPrice decimal.Decimal, side domain.SignalType) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == domain.SignalBuy {
		return entryPrice.Mul(one.Sub(m.cfg.StopLossPct))
	}
	return entryPrice.Mul(one.Add(m.cfg.StopLossPct))
}

// TakeProfitPrice offsets the entry price by the configured take-profit percentage.
func (m *Manager) TakeProfitPrice(entryPrice decimal.Decimal, side domain.SignalType) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == domain.SignalBuy {
		return entryPrice.Mul(one.Add(m.cfg.TakeProfitPct))
	}
	return entryPrice.Mul(one.Sub(m.cfg.TakeProfitPct))
}

// ResumeTrading unpauses only when the drawdown has recovered below 80% of the
// configured limit. Returns whether trading is unpaused afterwards.
func (m *Manager) ResumeTrading() bool {
	if !m.state.Paused {
		return true
	}
	if m.state.PeakPortfolioValue.IsZero() {
		return false
	}

	drawdown := m.Drawdown()
	threshold := m.cfg.MaxDrawdownPct.Mul(recoveryFactor)

	if drawdown.LessThan(threshold) {
		m.state.Paused = false
		m.state.PauseReason = ""
		m.logger.Info("trading resumed after risk recovery")
		return true
	}

	m.logger.Warn("cannot resume trading",
		zap.String("drawdown", formatPct(drawdown)),
		zap.String("required_recovery", formatPct(threshold)))
	return false
}

// ForceResume unpauses unconditionally. Loud on purpose.
func (m *Manager) ForceResume() {
	m.state.Paused = false
	m.state.PauseReason = ""
	m.logger.Warn("trading FORCE resumed, risk limits may be exceeded")
}

// Paused reports whether trade execution is currently halted.
func (m *Manager) Paused() bool {
	return m.state.Paused
}

// PauseReason returns the reason of the active pause, empty when not paused.
func (m *Manager) PauseReason() string {
	return m.state.PauseReason
}

// Drawdown returns the fractional decline from the historical peak.
func (m *Manager) Drawdown() decimal.Decimal {
	if m.state.PeakPortfolioValue.IsZero() {
		return decimal.Zero
	}
	return m.state.PeakPortfolioValue.Sub(m.state.CurrentPortfolioValue).Div(m.state.PeakPortfolioValue)
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() State {
	return m.state
}

// StateJSON serializes the full state for persistence.
func (m *Manager) StateJSON() (json.RawMessage, error) {
	data, err := json.Marshal(m.state)
	if err != nil {
		return nil, errors.Wrap(err, "marshal risk state")
	}
	return data, nil
}

// RestoreState loads previously persisted state.
func (m *Manager) RestoreState(raw json.RawMessage) error {
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return errors.Wrap(err, "unmarshal risk state")
	}
	m.state = state
	return nil
}

func formatPct(fraction decimal.Decimal) string {
	return fraction.Mul(decimal.NewFromInt(100)).StringFixed(1) + "%"
}
