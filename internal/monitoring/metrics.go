// Package monitoring exposes Prometheus counters for the payout pipeline.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var WithdrawalsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reseller",
	Subsystem: "withdrawal",
	Name:      "created_total",
	Help:      "Withdrawals created, by purpose.",
}, []string{"purpose"})

var WithdrawalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reseller",
	Subsystem: "withdrawal",
	Name:      "transitions_total",
	Help:      "Withdrawal status transitions, by target status and outcome source.",
}, []string{"status", "source"})

var GatewaySubmitAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reseller",
	Subsystem: "gateway",
	Name:      "submit_attempts_total",
	Help:      "Payout submit attempts, by result (accepted, rejected, error).",
}, []string{"result"})

var CallbacksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reseller",
	Subsystem: "gateway",
	Name:      "callbacks_total",
	Help:      "Provider callbacks, by result (applied, pending, duplicate, invalid_signature, mismatch, malformed, error).",
}, []string{"result"})

var RefundsIssued = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "reseller",
	Subsystem: "withdrawal",
	Name:      "refunds_total",
	Help:      "Compensating wallet refunds applied for failed withdrawals.",
})

var RevenueShareRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reseller",
	Subsystem: "revenue_share",
	Name:      "runs_total",
	Help:      "Revenue share runs, by result (completed, skipped, locked, error).",
}, []string{"result"})

var ContributorPayments = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reseller",
	Subsystem: "revenue_share",
	Name:      "payments_total",
	Help:      "Contributor payment outcomes, by status.",
}, []string{"status"})

var LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reseller",
	Subsystem: "ledger",
	Name:      "entries_total",
	Help:      "Ledger entries applied, by type.",
}, []string{"type"})
