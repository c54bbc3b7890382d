// Package metrics holds the engine's Prometheus collectors, registered on
// the default registry and exposed by the daemon's promhttp endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Trigger label values for Settlements.
const (
	TriggerContinue = "continue"
	TriggerClose    = "close"
	TriggerAuto     = "auto"
	TriggerExpiry   = "expiry"
)

// Outcome label values for Settlements.
const (
	OutcomeSettled  = "settled"
	OutcomeEmpty    = "empty"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Outcome label values for RateFetches.
const (
	FetchSuccess = "success"
	FetchError   = "error"
)

var (
	// Settlements counts settlement attempts by trigger and outcome.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitpot_settlements_total",
		Help: "Settlement attempts by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	// SettlementDuration observes the wall time of a full settlement run,
	// claim to commit.
	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "splitpot_settlement_duration_seconds",
		Help:    "Duration of settlement runs.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	// SchedulerPasses counts completed scheduler sweeps.
	SchedulerPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitpot_scheduler_passes_total",
		Help: "Completed scheduler passes.",
	})

	// RateFetches counts exchange-rate provider calls by outcome.
	RateFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitpot_rate_fetches_total",
		Help: "Exchange-rate provider fetches by outcome.",
	}, []string{"outcome"})
)
