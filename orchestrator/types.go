// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"time"

	"github.com/AidiJackson/codecompanion/orchestrator/budget"
)

// TaskType classifies the kind of work a task represents
type TaskType string

const (
	TaskArchitecture  TaskType = "architecture"
	TaskCodeGen       TaskType = "code_generation"
	TaskReview        TaskType = "code_review"
	TaskDebugging     TaskType = "debugging"
	TaskDocumentation TaskType = "documentation"
	TaskAnalysis      TaskType = "analysis"
	TaskTesting       TaskType = "testing"
	TaskGeneral       TaskType = "general"
)

// reasoningHeavyTypes are task types that benefit from high-capability
// executors as complexity grows
var reasoningHeavyTypes = map[TaskType]bool{
	TaskArchitecture: true,
	TaskDebugging:    true,
	TaskAnalysis:     true,
}

// Complexity is the per-dimension complexity score vector of a task.
// All dimensions are in [0,1] except EstimatedTokens.
type Complexity struct {
	Technical       float64 `json:"technical"`
	Novelty         float64 `json:"novelty"`
	SafetyRisk      float64 `json:"safety_risk"`
	ContextSize     float64 `json:"context_size"`
	Interdependence float64 `json:"interdependence"`
	EstimatedTokens int     `json:"estimated_tokens"`
}

// Overall collapses the complexity vector into a single [0,1] score
func (c Complexity) Overall() float64 {
	return 0.30*c.Technical +
		0.20*c.Novelty +
		0.20*c.SafetyRisk +
		0.15*c.ContextSize +
		0.15*c.Interdependence
}

// TaskDescriptor describes a unit of work to be routed. It is immutable
// once routing begins.
type TaskDescriptor struct {
	ID            string      `json:"id"`
	Type          TaskType    `json:"type"`
	Complexity    Complexity  `json:"complexity"`
	TimeSensitive bool        `json:"time_sensitive"`
	CostSensitive bool        `json:"cost_sensitive"`
	ProjectID     string      `json:"project_id"`
	Tier          budget.Tier `json:"tier"`
}

// Validate checks the descriptor's required fields and value ranges
func (t *TaskDescriptor) Validate() error {
	if t.ID == "" || t.ProjectID == "" {
		return ErrInvalidTask
	}
	if t.Type == "" {
		return ErrInvalidTask
	}
	if !budget.ValidTier(t.Tier) {
		return ErrInvalidTask
	}
	for _, v := range []float64{
		t.Complexity.Technical, t.Complexity.Novelty, t.Complexity.SafetyRisk,
		t.Complexity.ContextSize, t.Complexity.Interdependence,
	} {
		if v < 0 || v > 1 {
			return ErrInvalidTask
		}
	}
	if t.Complexity.EstimatedTokens < 0 {
		return ErrInvalidTask
	}
	return nil
}

// ExecutorProfile is a catalog entry for one routable executor
type ExecutorProfile struct {
	ID              string               `json:"id" yaml:"id"`
	Name            string               `json:"name" yaml:"name"`
	CostPer1K       float64              `json:"cost_per_1k" yaml:"cost_per_1k"`
	LatencyScore    float64              `json:"latency_score" yaml:"latency_score"` // normalized, higher = slower
	MaxContext      int                  `json:"max_context" yaml:"max_context"`
	MaxConcurrent   int                  `json:"max_concurrent" yaml:"max_concurrent"`
	Capabilities    map[TaskType]float64 `json:"capabilities" yaml:"capabilities"`
	CostScore       float64              `json:"cost_score" yaml:"cost_score"` // normalized, higher = cheaper
}

// ComponentScores are the per-objective scores that went into a routing
// decision for the selected executor
type ComponentScores struct {
	Quality float64 `json:"quality"`
	Cost    float64 `json:"cost"`
	Latency float64 `json:"latency"`
}

// RankedAlternative is a non-selected candidate and its final score
type RankedAlternative struct {
	ExecutorID string  `json:"executor_id"`
	Score      float64 `json:"score"`
}

// RoutingDecision is the immutable record emitted once per routing call
type RoutingDecision struct {
	ID           string              `json:"id"`
	TaskID       string              `json:"task_id"`
	ProjectID    string              `json:"project_id"`
	TaskType     TaskType            `json:"task_type"`
	ExecutorID   string              `json:"executor_id"`
	Score        float64             `json:"score"`
	Scores       ComponentScores     `json:"scores"`
	Confidence   float64             `json:"confidence"`
	Alternatives []RankedAlternative `json:"alternatives,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}

// TaskOutcome is the observed result of one completed task. It is
// produced once per task and consumed exactly once by the feedback loop.
type TaskOutcome struct {
	TaskID        string        `json:"task_id"`
	ExecutorID    string        `json:"executor_id"`
	ProjectID     string        `json:"project_id"`
	Tier          budget.Tier   `json:"tier"`
	TaskType      TaskType      `json:"task_type"`
	Complexity    float64       `json:"complexity"`
	Success       bool          `json:"success"`
	QualityScore  float64       `json:"quality_score"`
	ExecutionTime time.Duration `json:"execution_time"`
	TokensUsed    int           `json:"tokens_used"`
	CostUSD       float64       `json:"cost_usd"`
	ErrorKind     string        `json:"error_kind,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// ExecutionResult is what the external executor collaborator reports back
type ExecutionResult struct {
	Success       bool          `json:"success"`
	QualityScore  float64       `json:"quality_score"`
	ExecutionTime time.Duration `json:"execution_time"`
	TokensUsed    int           `json:"tokens_used"`
	CostUSD       float64       `json:"cost_usd"`
	ErrorKind     string        `json:"error_kind,omitempty"`
}

// Executor is the boundary contract to the external execution
// collaborator. The core never calls an executor's native API directly.
type Executor interface {
	ID() string
	Execute(ctx context.Context, task TaskDescriptor) (*ExecutionResult, error)
}
