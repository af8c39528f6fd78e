// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	routingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codecompanion_routing_decisions_total",
			Help: "Total routing decisions by task type and chosen executor",
		},
		[]string{"task_type", "executor_id"},
	)

	routingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codecompanion_routing_duration_seconds",
			Help:    "Time spent scoring and selecting an executor",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
	)

	executorInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "codecompanion_executor_in_flight",
			Help: "In-flight tasks per executor",
		},
		[]string{"executor_id"},
	)

	executorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codecompanion_executor_failures_total",
			Help: "Execution failures per executor",
		},
		[]string{"executor_id"},
	)

	cascadeStageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codecompanion_cascade_stage_total",
			Help: "Cascade stage outcomes by stage and result",
		},
		[]string{"stage", "result"},
	)

	cascadeTerminalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codecompanion_cascade_terminal_total",
			Help: "Cascade runs reaching a terminal state",
		},
		[]string{"state"},
	)

	cascadeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codecompanion_cascade_duration_seconds",
			Help:    "End-to-end cascade duration by terminal state",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"state"},
	)

	outcomesTrackedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codecompanion_outcomes_tracked_total",
			Help: "Task outcomes folded into the learners, by classification",
		},
		[]string{"executor_id", "classification"},
	)

	outcomeReward = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codecompanion_outcome_reward",
			Help:    "Blended reward signal per executor",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"executor_id"},
	)

	budgetViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codecompanion_budget_violations_total",
			Help: "Budget violations by tier and dimension",
		},
		[]string{"tier", "dimension"},
	)

	predictorRetrainsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "codecompanion_predictor_retrains_total",
			Help: "Completed outcome-predictor retraining passes",
		},
	)
)

func init() {
	prometheus.MustRegister(
		routingDecisionsTotal,
		routingDuration,
		executorInFlight,
		executorFailuresTotal,
		cascadeStageTotal,
		cascadeTerminalTotal,
		cascadeDuration,
		outcomesTrackedTotal,
		outcomeReward,
		budgetViolationsTotal,
		predictorRetrainsTotal,
	)
}
