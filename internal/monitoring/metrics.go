// Package monitoring exposes prometheus metrics for the trading core.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	openPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autotrader_open_positions",
			Help: "Number of currently open positions",
		},
		[]string{"trader"},
	)

	exposure = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autotrader_exposure",
			Help: "Current exposure (quantity * leverage * price) per trader",
		},
		[]string{"trader"},
	)

	positionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrader_positions_opened_total",
			Help: "Total number of positions opened",
		},
		[]string{"trader", "symbol", "side"},
	)

	positionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrader_positions_closed_total",
			Help: "Total number of positions closed",
		},
		[]string{"trader", "symbol", "reason"},
	)

	admissionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrader_admissions_rejected_total",
			Help: "Total number of rejected position-open attempts",
		},
		[]string{"trader"},
	)

	stopLossTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrader_stop_loss_triggers_total",
			Help: "Total number of stop-loss/take-profit triggers",
		},
		[]string{"reason"},
	)

	orphansClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autotrader_orphans_closed_total",
			Help: "Total number of orphaned positions closed during recovery",
		},
	)

	exchangeRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autotrader_exchange_retries_total",
			Help: "Total number of retried exchange calls",
		},
	)
)

func init() {
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(exposure)
	prometheus.MustRegister(positionsOpened)
	prometheus.MustRegister(positionsClosed)
	prometheus.MustRegister(admissionsRejected)
	prometheus.MustRegister(stopLossTriggers)
	prometheus.MustRegister(orphansClosed)
	prometheus.MustRegister(exchangeRetries)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPositionOpened increments the opened counter and open-position gauge.
func RecordPositionOpened(trader, symbol, side string) {
	positionsOpened.WithLabelValues(trader, symbol, side).Inc()
	openPositions.WithLabelValues(trader).Inc()
}

// RecordPositionClosed increments the closed counter and decrements the gauge.
func RecordPositionClosed(trader, symbol, reason string) {
	positionsClosed.WithLabelValues(trader, symbol, reason).Inc()
	openPositions.WithLabelValues(trader).Dec()
}

// UpdateExposure sets the live exposure gauge for a trader.
func UpdateExposure(trader string, value float64) {
	exposure.WithLabelValues(trader).Set(value)
}

// RecordAdmissionRejected counts a refused position-open attempt.
func RecordAdmissionRejected(trader string) {
	admissionsRejected.WithLabelValues(trader).Inc()
}

// RecordStopLossTrigger counts a monitor-driven close trigger.
func RecordStopLossTrigger(reason string) {
	stopLossTriggers.WithLabelValues(reason).Inc()
}

// RecordOrphanClosed counts an orphaned position closed during recovery.
func RecordOrphanClosed() {
	orphansClosed.Inc()
}

// RecordExchangeRetry counts a retried exchange call.
func RecordExchangeRetry() {
	exchangeRetries.Inc()
}
