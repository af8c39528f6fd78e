// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package budget

import "time"

// Tier is a project's budget/complexity classification
type Tier string

const (
	TierSimple     Tier = "simple"
	TierMedium     Tier = "medium"
	TierComplex    Tier = "complex"
	TierEnterprise Tier = "enterprise"
)

// ValidTier reports whether t is a known tier
func ValidTier(t Tier) bool {
	switch t {
	case TierSimple, TierMedium, TierComplex, TierEnterprise:
		return true
	}
	return false
}

// Limits holds the per-tier budget ceilings over a rolling window
type Limits struct {
	MaxTokens     int64         `json:"max_tokens" yaml:"max_tokens"`
	MaxConcurrent int           `json:"max_concurrent" yaml:"max_concurrent"`
	MaxSpendUSD   float64       `json:"max_spend_usd" yaml:"max_spend_usd"`
	MaxRequests   int64         `json:"max_requests" yaml:"max_requests"`
	Window        time.Duration `json:"window" yaml:"window"`
}

// DefaultLimits are the shipped per-tier limits; deployments override
// them from configuration.
func DefaultLimits() map[Tier]Limits {
	return map[Tier]Limits{
		TierSimple: {
			MaxTokens:     200_000,
			MaxConcurrent: 2,
			MaxSpendUSD:   5,
			MaxRequests:   100,
			Window:        24 * time.Hour,
		},
		TierMedium: {
			MaxTokens:     1_000_000,
			MaxConcurrent: 4,
			MaxSpendUSD:   25,
			MaxRequests:   500,
			Window:        24 * time.Hour,
		},
		TierComplex: {
			MaxTokens:     5_000_000,
			MaxConcurrent: 8,
			MaxSpendUSD:   100,
			MaxRequests:   2_000,
			Window:        24 * time.Hour,
		},
		TierEnterprise: {
			MaxTokens:     25_000_000,
			MaxConcurrent: 16,
			MaxSpendUSD:   500,
			MaxRequests:   10_000,
			Window:        24 * time.Hour,
		},
	}
}

// UsageMetrics tracks a project's running consumption inside the
// current window. Totals are never negative.
type UsageMetrics struct {
	ProjectID   string    `json:"project_id"`
	Tokens      int64     `json:"tokens"`
	Concurrent  int       `json:"concurrent"`
	SpendUSD    float64   `json:"spend_usd"`
	Requests    int64     `json:"requests"`
	WindowStart time.Time `json:"window_start"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Reset zeroes the totals and starts a new window
func (u *UsageMetrics) Reset(now time.Time) {
	u.Tokens = 0
	u.Concurrent = 0
	u.SpendUSD = 0
	u.Requests = 0
	u.WindowStart = now
}

// Expired reports whether the metrics window has aged out under the
// given limits
func (u *UsageMetrics) Expired(limits Limits, now time.Time) bool {
	if u.WindowStart.IsZero() {
		return false
	}
	return limits.Window > 0 && now.Sub(u.WindowStart) > limits.Window
}

// Violation records one usage dimension exceeding its tier limit
type Violation struct {
	ProjectID string    `json:"project_id"`
	Tier      Tier      `json:"tier"`
	Dimension string    `json:"dimension"`
	Observed  float64   `json:"observed"`
	Limit     float64   `json:"limit"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutorCost pairs an executor with its token pricing; routing hands
// these to SuggestCheaper when looking for an alternative
type ExecutorCost struct {
	ExecutorID string  `json:"executor_id"`
	CostPer1K  float64 `json:"cost_per_1k"`
}
