// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AidiJackson/codecompanion/orchestrator/budget"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// LoadArms returns all persisted bandit arms
func (s *PostgresStore) LoadArms(ctx context.Context) ([]ArmRecord, error) {
	query := `
		SELECT executor_id, alpha, beta, pulls, total_reward, context_weights, updated_at
		FROM bandit_arms
		ORDER BY executor_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load arms: %w", err)
	}
	defer rows.Close()

	var arms []ArmRecord
	for rows.Next() {
		var arm ArmRecord
		var weights []byte
		if err := rows.Scan(&arm.ExecutorID, &arm.Alpha, &arm.Beta, &arm.Pulls,
			&arm.TotalReward, &weights, &arm.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan arm: %w", err)
		}
		if len(weights) > 0 {
			if err := json.Unmarshal(weights, &arm.ContextWeights); err != nil {
				return nil, fmt.Errorf("failed to unmarshal context weights: %w", err)
			}
		}
		arms = append(arms, arm)
	}
	return arms, rows.Err()
}

// SaveArm upserts one bandit arm
func (s *PostgresStore) SaveArm(ctx context.Context, arm *ArmRecord) error {
	weights, err := json.Marshal(arm.ContextWeights)
	if err != nil {
		return fmt.Errorf("failed to marshal context weights: %w", err)
	}

	query := `
		INSERT INTO bandit_arms (executor_id, alpha, beta, pulls, total_reward, context_weights, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (executor_id) DO UPDATE SET
			alpha = $2, beta = $3, pulls = $4, total_reward = $5,
			context_weights = $6, updated_at = $7
	`

	_, err = s.db.ExecContext(ctx, query,
		arm.ExecutorID, arm.Alpha, arm.Beta, arm.Pulls, arm.TotalReward,
		weights, arm.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save arm: %w", err)
	}
	return nil
}

// LoadUsage returns a project's usage metrics
func (s *PostgresStore) LoadUsage(ctx context.Context, projectID string) (*budget.UsageMetrics, error) {
	query := `
		SELECT project_id, tokens, concurrent, spend_usd, requests, window_start, updated_at
		FROM project_usage
		WHERE project_id = $1
	`

	var usage budget.UsageMetrics
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&usage.ProjectID, &usage.Tokens, &usage.Concurrent, &usage.SpendUSD,
		&usage.Requests, &usage.WindowStart, &usage.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, budget.ErrUsageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}
	return &usage, nil
}

// SaveUsage upserts a project's usage metrics
func (s *PostgresStore) SaveUsage(ctx context.Context, projectID string, usage *budget.UsageMetrics) error {
	query := `
		INSERT INTO project_usage (project_id, tokens, concurrent, spend_usd, requests, window_start, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id) DO UPDATE SET
			tokens = $2, concurrent = $3, spend_usd = $4, requests = $5,
			window_start = $6, updated_at = $7
	`

	updatedAt := usage.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		projectID, usage.Tokens, usage.Concurrent, usage.SpendUSD,
		usage.Requests, usage.WindowStart, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save usage: %w", err)
	}
	return nil
}

// RecordViolation appends a budget violation
func (s *PostgresStore) RecordViolation(ctx context.Context, v *budget.Violation) error {
	query := `
		INSERT INTO budget_violations (project_id, tier, dimension, observed, limit_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		v.ProjectID, string(v.Tier), v.Dimension, v.Observed, v.Limit, v.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record violation: %w", err)
	}
	return nil
}

// SaveDecision appends a routing decision for audit
func (s *PostgresStore) SaveDecision(ctx context.Context, d *DecisionRecord) error {
	query := `
		INSERT INTO routing_decisions (
			id, task_id, project_id, task_type, executor_id, score,
			quality_score, cost_score, latency_score, confidence, alternatives, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.TaskID, d.ProjectID, d.TaskType, d.ExecutorID, d.Score,
		d.QualityScore, d.CostScore, d.LatencyScore, d.Confidence,
		d.Alternatives, d.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	return nil
}

// AppendOutcome appends a task outcome
func (s *PostgresStore) AppendOutcome(ctx context.Context, o *OutcomeRecord) error {
	query := `
		INSERT INTO task_outcomes (
			task_id, executor_id, project_id, task_type, complexity, success,
			quality_score, execution_secs, tokens_used, cost_usd, error_kind, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.db.ExecContext(ctx, query,
		o.TaskID, o.ExecutorID, o.ProjectID, o.TaskType, o.Complexity, o.Success,
		o.QualityScore, o.ExecutionSecs, o.TokensUsed, o.CostUSD,
		nullString(o.ErrorKind), o.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append outcome: %w", err)
	}
	return nil
}

// QueryOutcomes returns outcomes matching the filter, newest first
func (s *PostgresStore) QueryOutcomes(ctx context.Context, filter OutcomeFilter) ([]OutcomeRecord, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	addCondition := func(clause string, value interface{}) {
		conditions = append(conditions, fmt.Sprintf(clause, argNum))
		args = append(args, value)
		argNum++
	}

	if filter.ExecutorID != "" {
		addCondition("executor_id = $%d", filter.ExecutorID)
	}
	if filter.TaskType != "" {
		addCondition("task_type = $%d", filter.TaskType)
	}
	if filter.ProjectID != "" {
		addCondition("project_id = $%d", filter.ProjectID)
	}
	if !filter.Since.IsZero() {
		addCondition("created_at >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		addCondition("created_at <= $%d", filter.Until)
	}

	query := `
		SELECT id, task_id, executor_id, project_id, task_type, complexity, success,
			   quality_score, execution_secs, tokens_used, cost_usd, error_kind, created_at
		FROM task_outcomes
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []OutcomeRecord
	for rows.Next() {
		var o OutcomeRecord
		var errorKind sql.NullString
		if err := rows.Scan(&o.ID, &o.TaskID, &o.ExecutorID, &o.ProjectID, &o.TaskType,
			&o.Complexity, &o.Success, &o.QualityScore, &o.ExecutionSecs,
			&o.TokensUsed, &o.CostUSD, &errorKind, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.ErrorKind = errorKind.String
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// Ping verifies the database is reachable
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// nullString converts an empty string to NULL for database insertion
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
