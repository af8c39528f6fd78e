// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"sort"
	"sync"

	"github.com/AidiJackson/codecompanion/orchestrator/budget"
)

// MemoryStore is an in-memory Store for tests and single-process
// deployments without a database
type MemoryStore struct {
	mu         sync.RWMutex
	arms       map[string]ArmRecord
	usage      map[string]budget.UsageMetrics
	violations []budget.Violation
	decisions  []DecisionRecord
	outcomes   []OutcomeRecord
	nextID     int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		arms:  make(map[string]ArmRecord),
		usage: make(map[string]budget.UsageMetrics),
	}
}

// LoadArms returns all persisted bandit arms
func (s *MemoryStore) LoadArms(ctx context.Context) ([]ArmRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	arms := make([]ArmRecord, 0, len(s.arms))
	for _, arm := range s.arms {
		arms = append(arms, arm)
	}
	sort.Slice(arms, func(i, j int) bool { return arms[i].ExecutorID < arms[j].ExecutorID })
	return arms, nil
}

// SaveArm upserts one bandit arm
func (s *MemoryStore) SaveArm(ctx context.Context, arm *ArmRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.arms[arm.ExecutorID] = *arm
	return nil
}

// LoadUsage returns a project's usage metrics
func (s *MemoryStore) LoadUsage(ctx context.Context, projectID string) (*budget.UsageMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if usage, ok := s.usage[projectID]; ok {
		copied := usage
		return &copied, nil
	}
	return nil, budget.ErrUsageNotFound
}

// SaveUsage persists a project's usage metrics
func (s *MemoryStore) SaveUsage(ctx context.Context, projectID string, usage *budget.UsageMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *usage
	copied.ProjectID = projectID
	s.usage[projectID] = copied
	return nil
}

// RecordViolation appends a budget violation
func (s *MemoryStore) RecordViolation(ctx context.Context, violation *budget.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.violations = append(s.violations, *violation)
	return nil
}

// Violations returns all recorded violations
func (s *MemoryStore) Violations() []budget.Violation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]budget.Violation, len(s.violations))
	copy(out, s.violations)
	return out
}

// SaveDecision appends a routing decision for audit
func (s *MemoryStore) SaveDecision(ctx context.Context, decision *DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decisions = append(s.decisions, *decision)
	return nil
}

// Decisions returns all recorded decisions
func (s *MemoryStore) Decisions() []DecisionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DecisionRecord, len(s.decisions))
	copy(out, s.decisions)
	return out
}

// AppendOutcome appends a task outcome
func (s *MemoryStore) AppendOutcome(ctx context.Context, outcome *OutcomeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	stored := *outcome
	stored.ID = s.nextID
	s.outcomes = append(s.outcomes, stored)
	return nil
}

// QueryOutcomes returns outcomes matching the filter, newest first
func (s *MemoryStore) QueryOutcomes(ctx context.Context, filter OutcomeFilter) ([]OutcomeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []OutcomeRecord
	for i := len(s.outcomes) - 1; i >= 0; i-- {
		o := s.outcomes[i]
		if filter.ExecutorID != "" && o.ExecutorID != filter.ExecutorID {
			continue
		}
		if filter.TaskType != "" && o.TaskType != filter.TaskType {
			continue
		}
		if filter.ProjectID != "" && o.ProjectID != filter.ProjectID {
			continue
		}
		if !filter.Since.IsZero() && o.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && o.Timestamp.After(filter.Until) {
			continue
		}
		out = append(out, o)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Ping always succeeds for the in-memory store
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
