// Package monitoring exposes Prometheus metrics for the trading loop.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rotor_cycles_total",
			Help: "Total number of completed trading cycles",
		},
	)

	signalsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotor_signals_executed_total",
			Help: "Total number of signals executed",
		},
		[]string{"symbol", "side", "strategy"},
	)

	signalsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotor_signals_rejected_total",
			Help: "Total number of signals rejected by risk checks",
		},
		[]string{"symbol", "strategy"},
	)

	portfolioValue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rotor_portfolio_value_usd",
			Help: "Current total portfolio value in quote currency",
		},
	)

	tradingPaused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rotor_trading_paused",
			Help: "1 when trading is paused by the risk manager, 0 otherwise",
		},
	)

	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rotor_current_price",
			Help: "Last observed price per symbol",
		},
		[]string{"symbol"},
	)

	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotor_errors_total",
			Help: "Total number of errors by component",
		},
		[]string{"component"},
	)
)

func init() {
	prometheus.MustRegister(
		cyclesTotal,
		signalsExecuted,
		signalsRejected,
		portfolioValue,
		tradingPaused,
		currentPrice,
		errorsTotal,
	)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordCycle() {
	cyclesTotal.Inc()
}

func RecordSignalExecuted(symbol, side, strategy string) {
	signalsExecuted.WithLabelValues(symbol, side, strategy).Inc()
}

func RecordSignalRejected(symbol, strategy string) {
	signalsRejected.WithLabelValues(symbol, strategy).Inc()
}

func UpdatePortfolioValue(value float64) {
	portfolioValue.Set(value)
}

func UpdateTradingPaused(paused bool) {
	if paused {
		tradingPaused.Set(1)
		return
	}
	tradingPaused.Set(0)
}

func UpdatePrice(symbol string, price float64) {
	currentPrice.WithLabelValues(symbol).Set(price)
}

func RecordError(component string) {
	errorsTotal.WithLabelValues(component).Inc()
}
