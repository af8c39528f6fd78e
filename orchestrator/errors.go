// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import "errors"

var (
	// ErrNoEligibleExecutor is returned when the eligible set is empty
	// after recent-failure filtering
	ErrNoEligibleExecutor = errors.New("no eligible executor")

	// ErrNoAffordableExecutor is returned when every candidate fails the
	// budget affordability check
	ErrNoAffordableExecutor = errors.New("no affordable executor")

	// ErrInvalidTask is returned for a task descriptor that fails
	// validation; fatal for that task
	ErrInvalidTask = errors.New("invalid task descriptor")

	// ErrUnknownExecutor is returned when an executor ID is not in the catalog
	ErrUnknownExecutor = errors.New("unknown executor")

	// ErrCascadeFailed is returned when an artifact reaches the Failed
	// terminal stage
	ErrCascadeFailed = errors.New("quality cascade failed")

	// ErrCascadeRevision signals the artifact was sent back to its
	// producer for revision; the cascade for this round has halted
	ErrCascadeRevision = errors.New("artifact requires revision")
)
