// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package budget

import "context"

// Repository defines the interface for usage/violation persistence.
// The in-memory and Postgres stores in the state package both satisfy it.
type Repository interface {
	// LoadUsage returns the current usage metrics for a project, or
	// ErrUsageNotFound when the project has no recorded usage yet
	LoadUsage(ctx context.Context, projectID string) (*UsageMetrics, error)

	// SaveUsage persists the usage metrics for a project
	SaveUsage(ctx context.Context, projectID string, usage *UsageMetrics) error

	// RecordViolation appends a budget violation for audit
	RecordViolation(ctx context.Context, violation *Violation) error

	// Ping verifies the repository is reachable
	Ping(ctx context.Context) error
}
