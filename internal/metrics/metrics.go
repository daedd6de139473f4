// Package metrics exposes Prometheus collectors for the trading pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/driftlabs/marginbot/internal/domain"
)

// Metrics bundles every collector the pipeline updates. All fields are
// registered on construction; components receive the struct and update the
// collectors directly.
type Metrics struct {
	TradesTotal     *prometheus.CounterVec
	RejectionsTotal *prometheus.CounterVec
	OrdersTotal     *prometheus.CounterVec
	OrderRetries    prometheus.Counter
	SourceFailures  *prometheus.CounterVec

	Equity        prometheus.Gauge
	DailyPnL      prometheus.Gauge
	OpenPositions prometheus.Gauge
	BreakerState  *prometheus.GaugeVec

	CycleDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marginbot_trades_total",
			Help: "Closed trades by symbol, exit reason and result.",
		}, []string{"symbol", "exit_reason", "result"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marginbot_rejections_total",
			Help: "Trade intents rejected by the risk layer, by reason.",
		}, []string{"reason"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marginbot_orders_total",
			Help: "Orders submitted to the venue by symbol and side.",
		}, []string{"symbol", "side"}),
		OrderRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marginbot_order_retries_total",
			Help: "Order submissions retried after a retryable failure.",
		}),
		SourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marginbot_source_failures_total",
			Help: "Signal source calls that errored or timed out, by source.",
		}, []string{"source"}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marginbot_equity",
			Help: "Ledger-derived account equity.",
		}),
		DailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marginbot_daily_realized_pnl",
			Help: "Realized pnl accumulated since the UTC day start.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marginbot_open_positions",
			Help: "Number of currently open positions.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marginbot_breaker_state",
			Help: "Circuit breaker state as labeled 0/1 series.",
		}, []string{"state"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marginbot_cycle_duration_seconds",
			Help:    "Wall time of one decision cycle.",
			Buckets: prometheus.DefBuckets,
		}, []string{"symbol"}),
	}

	reg.MustRegister(
		m.TradesTotal,
		m.RejectionsTotal,
		m.OrdersTotal,
		m.OrderRetries,
		m.SourceFailures,
		m.Equity,
		m.DailyPnL,
		m.OpenPositions,
		m.BreakerState,
		m.CycleDuration,
	)
	return m
}

// ObserveAccount refreshes the account-level gauges from a replayed state.
func (m *Metrics) ObserveAccount(state domain.AccountState) {
	m.Equity.Set(state.Equity)
	m.DailyPnL.Set(state.DailyRealizedPnL)
	m.OpenPositions.Set(float64(len(state.OpenPositionIDs)))
}

// ObserveTrade counts a closed trade, labeling the result win or loss.
func (m *Metrics) ObserveTrade(trade domain.Trade) {
	result := "loss"
	if trade.Won() {
		result = "win"
	}
	m.TradesTotal.WithLabelValues(trade.Symbol, string(trade.ExitReason), result).Inc()
}

// SetBreakerState flips the labeled series so exactly one reads 1.
func (m *Metrics) SetBreakerState(state string) {
	for _, s := range []string{"armed", "tripped_daily", "tripped_streak", "tripped_manual"} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.BreakerState.WithLabelValues(s).Set(v)
	}
}
