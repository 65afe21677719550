// Package metrics exposes Prometheus instrumentation for the settlement
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WithdrawalsProcessed counts admin decisions by outcome.
	WithdrawalsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_withdrawals_processed_total",
			Help: "Withdrawal requests processed, by outcome.",
		},
		[]string{"outcome"}, // approved|rejected
	)

	// CollectionsMarked counts cash collection records marked collected.
	CollectionsMarked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_cash_collections_marked_total",
			Help: "Cash collection records marked collected.",
		},
	)

	// PendingFundsReleased counts wallets touched by release sweeps.
	PendingFundsReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_pending_funds_released_wallets_total",
			Help: "Wallets whose pending funds were released.",
		},
	)
)

// Handler serves the /metrics endpoint.
var Handler = promhttp.Handler

// Init registers the service collectors.
func Init() {
	prometheus.MustRegister(WithdrawalsProcessed)
	prometheus.MustRegister(CollectionsMarked)
	prometheus.MustRegister(PendingFundsReleased)
}
