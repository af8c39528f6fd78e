// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

// Package budget enforces per-project spending limits for routed tasks.
//
// Every project carries a complexity tier (simple, medium, complex,
// enterprise); each tier maps to a set of Limits covering tokens,
// concurrent executors, spend, and request count over a rolling window.
// The Governor compares a project's running UsageMetrics against those
// limits and vetoes executor choices the project cannot afford.
//
// The governor fails open only on internal errors (for example a
// persistence read failure) so a governor outage never blocks legitimate
// work. A confirmed over-limit condition always fails closed.
package budget
