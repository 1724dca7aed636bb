// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// ─── Commission Metrics ─────────────────────────────────────────────────────

// CommissionsCreated counts created commissions by distribution kind.
var CommissionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "brokerops",
	Subsystem: "commissions",
	Name:      "created_total",
	Help:      "Total commissions created, by distribution kind.",
}, []string{"kind"})

// CommissionAmounts accumulates allocated money by recipient.
var CommissionAmounts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "brokerops",
	Subsystem: "commissions",
	Name:      "allocated_amount_total",
	Help:      "Total commission money allocated, by recipient (office, employees, remainder).",
}, []string{"recipient"})

// CommissionTransitions counts lifecycle transitions by target status.
var CommissionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "brokerops",
	Subsystem: "commissions",
	Name:      "transitions_total",
	Help:      "Total successful commission lifecycle transitions.",
}, []string{"status"})

// Rejections counts rejected operations by operation and error code.
var Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "brokerops",
	Subsystem: "commissions",
	Name:      "rejections_total",
	Help:      "Total operations rejected, by operation and error code.",
}, []string{"operation", "code"})

// ─── Debt Metrics ───────────────────────────────────────────────────────────

// DeductionDecisions counts applied deduction decisions by action.
var DeductionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "brokerops",
	Subsystem: "debts",
	Name:      "decisions_total",
	Help:      "Total deduction decisions applied, by action.",
}, []string{"action"})

// DeductedAmount accumulates money deducted from commissions.
var DeductedAmount = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "brokerops",
	Subsystem: "debts",
	Name:      "deducted_amount_total",
	Help:      "Total money deducted from commissions towards debts.",
})

// DebtPayments counts manual debt payments by outcome (partial, settled).
var DebtPayments = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "brokerops",
	Subsystem: "debts",
	Name:      "payments_total",
	Help:      "Total manual debt payments, by outcome.",
}, []string{"outcome"})

// AddAmount adds a positive decimal amount to a float counter.
func AddAmount(c prometheus.Counter, amount decimal.Decimal) {
	if amount.IsPositive() {
		c.Add(amount.InexactFloat64())
	}
}
