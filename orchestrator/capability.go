// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"log"
	"sync"
)

const (
	// minMultiplier and maxMultiplier bound the learned capability multiplier
	minMultiplier = 0.1
	maxMultiplier = 2.0

	// defaultSmoothing is the exponential moving average rate used when
	// folding observed quality into the learned multiplier
	defaultSmoothing = 0.1

	// defaultBaseCapability is assumed for executors with no catalog
	// entry for a task type
	defaultBaseCapability = 0.5
)

// CapabilityContext carries the request characteristics that adjust a
// raw capability score during routing
type CapabilityContext struct {
	Complexity    float64
	TimeSensitive bool
	CostSensitive bool
}

// CapabilityModel holds per-executor, per-task-type base competence
// scores and the slowly-adapting learned multipliers
type CapabilityModel struct {
	mu        sync.RWMutex
	base      map[string]map[TaskType]float64
	learned   map[string]map[TaskType]float64
	smoothing float64
	logger    *log.Logger
}

// NewCapabilityModel builds a capability model from the executor catalog
func NewCapabilityModel(profiles []ExecutorProfile) *CapabilityModel {
	m := &CapabilityModel{
		base:      make(map[string]map[TaskType]float64),
		learned:   make(map[string]map[TaskType]float64),
		smoothing: defaultSmoothing,
		logger:    log.Default(),
	}
	for _, p := range profiles {
		caps := make(map[TaskType]float64, len(p.Capabilities))
		for t, v := range p.Capabilities {
			caps[t] = clamp01(v)
		}
		m.base[p.ID] = caps
		m.learned[p.ID] = make(map[TaskType]float64)
	}
	return m
}

// GetAdjustedCapability returns the executor's competence for a task
// type, scaled by the learned multiplier and the routing context.
// The result is always in [0,1].
func (m *CapabilityModel) GetAdjustedCapability(executorID string, taskType TaskType, rctx CapabilityContext) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	base := defaultBaseCapability
	if caps, ok := m.base[executorID]; ok {
		if v, ok := caps[taskType]; ok {
			base = v
		}
	}

	multiplier := 1.0
	if learned, ok := m.learned[executorID]; ok {
		if v, ok := learned[taskType]; ok {
			multiplier = v
		}
	}

	score := base * multiplier

	// Reasoning-heavy work rewards strong executors more as complexity grows
	if reasoningHeavyTypes[taskType] && rctx.Complexity > 0.7 {
		score *= 1.0 + 0.1*(rctx.Complexity-0.7)/0.3
	}
	if rctx.TimeSensitive {
		score *= 0.95
	}
	if rctx.CostSensitive {
		score *= 0.97
	}

	return clamp01(score)
}

// ApplyOutcome pulls the learned multiplier toward 2x the observed
// quality via exponential smoothing, clamped to [0.1, 2.0]
func (m *CapabilityModel) ApplyOutcome(executorID string, taskType TaskType, observedQuality float64) {
	observedQuality = clamp01(observedQuality)
	target := 2 * observedQuality

	m.mu.Lock()
	defer m.mu.Unlock()

	learned, ok := m.learned[executorID]
	if !ok {
		learned = make(map[TaskType]float64)
		m.learned[executorID] = learned
	}

	current, ok := learned[taskType]
	if !ok {
		current = 1.0
	}

	next := current + m.smoothing*(target-current)
	if next < minMultiplier {
		next = minMultiplier
	}
	if next > maxMultiplier {
		next = maxMultiplier
	}
	learned[taskType] = next
}

// Multiplier returns the current learned multiplier for an executor and
// task type (1.0 when nothing has been learned yet)
func (m *CapabilityModel) Multiplier(executorID string, taskType TaskType) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if learned, ok := m.learned[executorID]; ok {
		if v, ok := learned[taskType]; ok {
			return v
		}
	}
	return 1.0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
