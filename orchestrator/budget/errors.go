// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package budget

import "errors"

var (
	// ErrBudgetExceeded is reported when a project is over its tier
	// limits; callers may retry with a cheaper executor or smaller scope
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrUsageNotFound is returned when no usage metrics exist for a project
	ErrUsageNotFound = errors.New("usage metrics not found")

	// ErrUnknownTier is returned for a tier with no configured limits
	ErrUnknownTier = errors.New("unknown budget tier")

	// ErrInvalidInput is returned for general invalid input
	ErrInvalidInput = errors.New("invalid input")
)
