// Package metrics exposes Prometheus counters and gauges for the vault's
// wagering, liquidity-pool, and transfer operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BetsTotal counts settled bets by game and outcome (win, lose).
	BetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_bets_total",
			Help: "Total settled bets by game and outcome",
		},
		[]string{"game", "outcome"},
	)

	// WageredTotal sums wagered e8s by game.
	WageredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_wagered_e8s_total",
			Help: "Total amount wagered, in e8s, by game",
		},
		[]string{"game"},
	)

	// PayoutsTotal sums paid-out e8s by game.
	PayoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_payouts_e8s_total",
			Help: "Total amount paid out, in e8s, by game",
		},
		[]string{"game"},
	)

	// DepositsTotal counts completed deposits.
	DepositsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_deposits_total",
			Help: "Total completed deposits",
		},
	)

	// WithdrawalsTotal counts withdrawals by terminal state.
	WithdrawalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_withdrawals_total",
			Help: "Total withdrawals by terminal state",
		},
		[]string{"state"}, // completed, rolled_back, expired
	)

	// TransferRetriesTotal counts retry attempts against the ledger.
	TransferRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_transfer_retries_total",
			Help: "Total pending-transfer retry attempts against the ledger",
		},
	)

	// LedgerCallDuration tracks ledger RPC latency by method.
	LedgerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vault_ledger_call_duration_seconds",
			Help:    "Ledger canister RPC latency by method",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// PoolReserve tracks the current pool reserve in e8s. Reserve can exceed
	// float64's exact integer range only at absurd scales (2^53 e8s is
	// ~90 million BTC-equivalent units), an acceptable display-only
	// approximation for a gauge.
	PoolReserve = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vault_pool_reserve_e8s",
			Help: "Current liquidity pool reserve in e8s",
		},
	)

	// PoolTotalShares tracks total LP shares outstanding.
	PoolTotalShares = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vault_pool_total_shares",
			Help: "Total liquidity pool shares outstanding",
		},
	)

	// PendingTransfers tracks the number of in-flight transfers.
	PendingTransfers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vault_pending_transfers",
			Help: "Number of pending (in-flight) transfers",
		},
	)

	// SolvencyOK reports the last solvency check result (1=solvent, 0=not).
	SolvencyOK = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vault_solvency_ok",
			Help: "Result of the last solvency check (1=solvent, 0=insolvent)",
		},
	)

	// ExternalBalanceCacheStale reports whether the cached external balance
	// has exceeded its staleness threshold (1=stale, 0=fresh).
	ExternalBalanceCacheStale = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vault_external_balance_cache_stale",
			Help: "Whether the cached external ledger balance is stale (1=stale, 0=fresh)",
		},
	)

	// RateLimitRejectionsTotal counts requests rejected by the per-IP token
	// bucket, labeled by the route group the limiter was mounted on (e.g.
	// "auth", "play") so a sustained spike on one surface stands out from
	// general background throttling.
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_rate_limit_rejections_total",
			Help: "Total requests rejected by the per-IP rate limiter, by route group",
		},
		[]string{"route_group"},
	)
)

// RecordBet records a settled bet's outcome and amounts.
func RecordBet(game, outcome string, wagered, payout uint64) {
	BetsTotal.WithLabelValues(game, outcome).Inc()
	WageredTotal.WithLabelValues(game).Add(float64(wagered))
	if payout > 0 {
		PayoutsTotal.WithLabelValues(game).Add(float64(payout))
	}
}

// RecordWithdrawal records a withdrawal reaching a terminal state.
func RecordWithdrawal(state string) {
	WithdrawalsTotal.WithLabelValues(state).Inc()
}

// ObserveLedgerCall records how long a ledger RPC took.
func ObserveLedgerCall(method string, start time.Time) {
	LedgerCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// UpdatePoolStats refreshes the pool gauges from a point-in-time reading.
func UpdatePoolStats(reserve float64, totalShares float64, pending int) {
	PoolReserve.Set(reserve)
	PoolTotalShares.Set(totalShares)
	PendingTransfers.Set(float64(pending))
}

// UpdateSolvency refreshes the solvency and cache-staleness gauges.
func UpdateSolvency(solvent, cacheStale bool) {
	if solvent {
		SolvencyOK.Set(1)
	} else {
		SolvencyOK.Set(0)
	}
	if cacheStale {
		ExternalBalanceCacheStale.Set(1)
	} else {
		ExternalBalanceCacheStale.Set(0)
	}
}
