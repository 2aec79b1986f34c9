package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experimentation_assignments_total",
		Help: "Assignment requests by outcome",
	}, []string{"outcome"})

	ConversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experimentation_conversions_total",
		Help: "Conversion recording requests by outcome",
	}, []string{"outcome"})

	LifecycleTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experimentation_lifecycle_transitions_total",
		Help: "Experiment lifecycle transition attempts by target status and outcome",
	}, []string{"to_status", "outcome"})

	LifecycleEventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experimentation_lifecycle_events_consumed_total",
		Help: "Relayed lifecycle events handled by the audit consumer by event type and outcome",
	}, []string{"event_type", "outcome"})

	ResultsDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "experimentation_results_duration_seconds",
		Help:    "Time to compute an experiment results report",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"status"})
)
