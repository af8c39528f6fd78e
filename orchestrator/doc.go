// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator implements adaptive task routing across a pool of
// heterogeneous model executors.
//
// The package combines four cooperating pieces:
//
//   - CapabilityModel: per-executor, per-task-type competence scores with
//     slowly-adapting learned multipliers.
//   - BanditLearner: Beta-Bernoulli Thompson sampling over executors, used
//     as the exploration signal during routing.
//   - Router: multi-objective scoring (quality/cost/latency) over the
//     eligible executors, constrained by the budget governor and by
//     recent-failure and load tracking.
//   - Cascade: an escalating quality-assurance state machine that every
//     produced artifact passes through before a task is declared done.
//
// Completed-task outcomes are fed back through the FeedbackLoop, which
// rewrites the bandit posteriors and the capability multipliers so the
// next routing call benefits from everything observed so far.
//
// All components receive their dependencies explicitly; there is no
// package-level mutable state beyond the Prometheus collectors.
package orchestrator
