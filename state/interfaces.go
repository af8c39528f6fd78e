// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

// Package state provides the persistence collaborator for the routing
// core: bandit arms, per-project usage metrics, routing decisions, and
// task outcomes. The core treats this as a simple key-value/append-log
// abstraction; any durable store satisfying Store is acceptable.
package state

import (
	"context"
	"time"

	"github.com/AidiJackson/codecompanion/orchestrator/budget"
)

// ArmRecord is the persisted form of one bandit arm
type ArmRecord struct {
	ExecutorID     string    `json:"executor_id"`
	Alpha          float64   `json:"alpha"`
	Beta           float64   `json:"beta"`
	Pulls          int64     `json:"pulls"`
	TotalReward    float64   `json:"total_reward"`
	ContextWeights []float64 `json:"context_weights,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DecisionRecord is the persisted form of one routing decision, kept for
// audit and later learning
type DecisionRecord struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	ProjectID    string    `json:"project_id"`
	TaskType     string    `json:"task_type"`
	ExecutorID   string    `json:"executor_id"`
	Score        float64   `json:"score"`
	QualityScore float64   `json:"quality_score"`
	CostScore    float64   `json:"cost_score"`
	LatencyScore float64   `json:"latency_score"`
	Confidence   float64   `json:"confidence"`
	Alternatives []byte    `json:"alternatives,omitempty"` // JSON-encoded ranked list
	Timestamp    time.Time `json:"timestamp"`
}

// OutcomeRecord is the persisted form of one task outcome
type OutcomeRecord struct {
	ID            int64     `json:"id,omitempty"`
	TaskID        string    `json:"task_id"`
	ExecutorID    string    `json:"executor_id"`
	ProjectID     string    `json:"project_id"`
	TaskType      string    `json:"task_type"`
	Complexity    float64   `json:"complexity"`
	Success       bool      `json:"success"`
	QualityScore  float64   `json:"quality_score"`
	ExecutionSecs float64   `json:"execution_secs"`
	TokensUsed    int       `json:"tokens_used"`
	CostUSD       float64   `json:"cost_usd"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// OutcomeFilter narrows an outcome query; zero values match everything
type OutcomeFilter struct {
	ExecutorID string
	TaskType   string
	ProjectID  string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Store is the persistence boundary contract of the routing core. It
// also satisfies budget.Repository.
type Store interface {
	// Bandit arms
	LoadArms(ctx context.Context) ([]ArmRecord, error)
	SaveArm(ctx context.Context, arm *ArmRecord) error

	// Usage metrics (budget.Repository)
	LoadUsage(ctx context.Context, projectID string) (*budget.UsageMetrics, error)
	SaveUsage(ctx context.Context, projectID string, usage *budget.UsageMetrics) error
	RecordViolation(ctx context.Context, violation *budget.Violation) error

	// Audit
	SaveDecision(ctx context.Context, decision *DecisionRecord) error

	// Outcomes
	AppendOutcome(ctx context.Context, outcome *OutcomeRecord) error
	QueryOutcomes(ctx context.Context, filter OutcomeFilter) ([]OutcomeRecord, error)

	// Utility
	Ping(ctx context.Context) error
}
