// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package budget

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Alerter defines the interface for reporting budget violations
type Alerter interface {
	Alert(ctx context.Context, violation Violation) error
}

// LogAlerter is a simple alerter that logs violations to stdout
type LogAlerter struct {
	logger *log.Logger
}

// NewLogAlerter creates a new log-based alerter
func NewLogAlerter(logger *log.Logger) *LogAlerter {
	if logger == nil {
		logger = log.Default()
	}
	return &LogAlerter{logger: logger}
}

// Alert logs the violation
func (a *LogAlerter) Alert(ctx context.Context, v Violation) error {
	a.logger.Printf("[BUDGET ALERT] project=%s tier=%s %s: %.2f over limit %.2f",
		v.ProjectID, v.Tier, v.Dimension, v.Observed, v.Limit)
	return nil
}

// Governor tracks per-project consumption against tiered limits and
// vetoes unaffordable executor choices
type Governor struct {
	repo    Repository
	pricing *Pricing
	limits  map[Tier]Limits
	alerter Alerter
	logger  *log.Logger

	// per-project exclusive sections; updates for different projects
	// never block each other
	mu       sync.Mutex
	projects map[string]*sync.Mutex
}

// NewGovernor creates a governor with default limits and a log alerter
func NewGovernor(repo Repository, pricing *Pricing) *Governor {
	return NewGovernorWithOptions(repo, pricing, nil, nil, nil)
}

// NewGovernorWithOptions creates a governor with custom limits, alerter
// and logger. Nil options fall back to defaults.
func NewGovernorWithOptions(repo Repository, pricing *Pricing, limits map[Tier]Limits, alerter Alerter, logger *log.Logger) *Governor {
	if pricing == nil {
		pricing = NewPricing()
	}
	if limits == nil {
		limits = DefaultLimits()
	}
	if logger == nil {
		logger = log.Default()
	}
	if alerter == nil {
		alerter = NewLogAlerter(logger)
	}
	return &Governor{
		repo:     repo,
		pricing:  pricing,
		limits:   limits,
		alerter:  alerter,
		logger:   logger,
		projects: make(map[string]*sync.Mutex),
	}
}

// Limits returns the configured limits for a tier
func (g *Governor) Limits(tier Tier) (Limits, bool) {
	l, ok := g.limits[tier]
	return l, ok
}

// Pricing returns the governor's pricing table
func (g *Governor) Pricing() *Pricing {
	return g.pricing
}

// projectLock returns the exclusive section for one project
func (g *Governor) projectLock(projectID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()

	if m, ok := g.projects[projectID]; ok {
		return m
	}
	m := &sync.Mutex{}
	g.projects[projectID] = m
	return m
}

// CheckBudget compares each usage dimension against the tier's limits.
// Any single dimension strictly exceeding its limit returns false along
// with the recorded violations. An unknown tier is an internal error and
// fails open.
func (g *Governor) CheckBudget(ctx context.Context, tier Tier, usage *UsageMetrics) (bool, []Violation) {
	limits, ok := g.limits[tier]
	if !ok {
		g.logger.Printf("[Budget] WARNING: no limits configured for tier %q, failing open", tier)
		return true, nil
	}
	if usage == nil {
		return true, nil
	}

	now := time.Now().UTC()
	var violations []Violation

	check := func(dimension string, observed, limit float64) {
		if observed > limit {
			violations = append(violations, Violation{
				ProjectID: usage.ProjectID,
				Tier:      tier,
				Dimension: dimension,
				Observed:  observed,
				Limit:     limit,
				Timestamp: now,
			})
		}
	}

	check("tokens", float64(usage.Tokens), float64(limits.MaxTokens))
	check("concurrent", float64(usage.Concurrent), float64(limits.MaxConcurrent))
	check("spend_usd", usage.SpendUSD, limits.MaxSpendUSD)
	check("requests", float64(usage.Requests), float64(limits.MaxRequests))

	for i := range violations {
		g.reportViolation(ctx, violations[i])
	}

	return len(violations) == 0, violations
}

// CanAfford projects the cost and token consumption of a candidate
// executor onto the project's current usage and checks the result
// against the tier limits. Internal errors (repository failures, unknown
// tier) fail open; a confirmed over-limit fails closed.
func (g *Governor) CanAfford(ctx context.Context, projectID, executorID string, estimatedTokens int, tier Tier) bool {
	limits, ok := g.limits[tier]
	if !ok {
		g.logger.Printf("[Budget] WARNING: no limits configured for tier %q, failing open", tier)
		return true
	}

	usage, err := g.currentUsage(ctx, projectID, limits)
	if err != nil {
		g.logger.Printf("[Budget] WARNING: failed to load usage for %s, failing open: %v", projectID, err)
		return true
	}

	estimatedCost := g.EstimateCost(executorID, estimatedTokens)
	projectedSpend := usage.SpendUSD + estimatedCost
	projectedTokens := usage.Tokens + int64(estimatedTokens)

	now := time.Now().UTC()
	if projectedSpend > limits.MaxSpendUSD {
		g.reportViolation(ctx, Violation{
			ProjectID: projectID,
			Tier:      tier,
			Dimension: "spend_usd",
			Observed:  projectedSpend,
			Limit:     limits.MaxSpendUSD,
			Timestamp: now,
		})
		return false
	}
	if projectedTokens > limits.MaxTokens {
		g.reportViolation(ctx, Violation{
			ProjectID: projectID,
			Tier:      tier,
			Dimension: "tokens",
			Observed:  float64(projectedTokens),
			Limit:     float64(limits.MaxTokens),
			Timestamp: now,
		})
		return false
	}

	return true
}

// EstimateCost projects the USD cost of running tokens through an executor
func (g *Governor) EstimateCost(executorID string, tokens int) float64 {
	return g.pricing.EstimateCost(executorID, tokens)
}

// SuggestCheaper returns the cheapest alternative that is at least 20%
// cheaper than the current executor for the same token volume, or nil
// when no candidate qualifies.
func (g *Governor) SuggestCheaper(current ExecutorCost, candidates []ExecutorCost, tokens int) *ExecutorCost {
	currentCost := float64(tokens) / 1000 * current.CostPer1K

	var best *ExecutorCost
	bestCost := currentCost
	for i := range candidates {
		c := candidates[i]
		if c.ExecutorID == current.ExecutorID {
			continue
		}
		cost := float64(tokens) / 1000 * c.CostPer1K
		if cost <= currentCost*0.8 && cost < bestCost {
			best = &candidates[i]
			bestCost = cost
		}
	}
	return best
}

// Commit applies a completed task's consumption to the project's usage
// metrics under the project's exclusive section
func (g *Governor) Commit(ctx context.Context, projectID string, tier Tier, tokens int, costUSD float64) error {
	if projectID == "" || tokens < 0 || costUSD < 0 {
		return fmt.Errorf("%w: project %q tokens %d cost %.4f", ErrInvalidInput, projectID, tokens, costUSD)
	}

	lock := g.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	limits := g.limits[tier]
	usage, err := g.currentUsage(ctx, projectID, limits)
	if err != nil {
		return err
	}

	usage.Tokens += int64(tokens)
	usage.SpendUSD += costUSD
	usage.Requests++
	usage.UpdatedAt = time.Now().UTC()

	return g.repo.SaveUsage(ctx, projectID, usage)
}

// TrackConcurrency adjusts a project's concurrent-executor count.
// Totals never go negative.
func (g *Governor) TrackConcurrency(ctx context.Context, projectID string, delta int) error {
	lock := g.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	usage, err := g.currentUsage(ctx, projectID, Limits{})
	if err != nil {
		return err
	}

	usage.Concurrent += delta
	if usage.Concurrent < 0 {
		usage.Concurrent = 0
	}
	usage.UpdatedAt = time.Now().UTC()

	return g.repo.SaveUsage(ctx, projectID, usage)
}

// Usage returns the project's current usage metrics, aging out an
// expired window first
func (g *Governor) Usage(ctx context.Context, projectID string, tier Tier) (*UsageMetrics, error) {
	return g.currentUsage(ctx, projectID, g.limits[tier])
}

// currentUsage loads usage, creating empty metrics for a new project and
// resetting the window when it has aged out
func (g *Governor) currentUsage(ctx context.Context, projectID string, limits Limits) (*UsageMetrics, error) {
	now := time.Now().UTC()

	usage, err := g.repo.LoadUsage(ctx, projectID)
	if err == ErrUsageNotFound {
		fresh := &UsageMetrics{ProjectID: projectID, WindowStart: now}
		return fresh, nil
	}
	if err != nil {
		return nil, err
	}

	if usage.Expired(limits, now) {
		usage.Reset(now)
		if err := g.repo.SaveUsage(ctx, projectID, usage); err != nil {
			g.logger.Printf("[Budget] Failed to persist window reset for %s: %v", projectID, err)
		}
	}

	return usage, nil
}

func (g *Governor) reportViolation(ctx context.Context, v Violation) {
	if err := g.alerter.Alert(ctx, v); err != nil {
		g.logger.Printf("[Budget] Failed to send alert: %v", err)
	}
	if err := g.repo.RecordViolation(ctx, &v); err != nil {
		g.logger.Printf("[Budget] Failed to record violation: %v", err)
	}
}

// IsHealthy checks if the governor's repository is reachable
func (g *Governor) IsHealthy(ctx context.Context) bool {
	return g.repo.Ping(ctx) == nil
}
