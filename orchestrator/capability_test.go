// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testProfiles() []ExecutorProfile {
	return []ExecutorProfile{
		{
			ID:            "exec-a",
			Name:          "Executor A",
			CostPer1K:     0.009,
			CostScore:     0.6,
			LatencyScore:  0.3,
			MaxContext:    200000,
			MaxConcurrent: 8,
			Capabilities: map[TaskType]float64{
				TaskCodeGen:      0.95,
				TaskArchitecture: 0.9,
				TaskGeneral:      0.85,
			},
		},
		{
			ID:            "exec-b",
			Name:          "Executor B",
			CostPer1K:     0.0024,
			CostScore:     0.9,
			LatencyScore:  0.3,
			MaxContext:    200000,
			MaxConcurrent: 8,
			Capabilities: map[TaskType]float64{
				TaskCodeGen: 0.80,
				TaskGeneral: 0.7,
			},
		},
	}
}

func TestGetAdjustedCapabilityBase(t *testing.T) {
	m := NewCapabilityModel(testProfiles())

	score := m.GetAdjustedCapability("exec-a", TaskCodeGen, CapabilityContext{})
	assert.InDelta(t, 0.95, score, 1e-9)
}

func TestGetAdjustedCapabilityUnknownExecutor(t *testing.T) {
	m := NewCapabilityModel(testProfiles())

	score := m.GetAdjustedCapability("missing", TaskCodeGen, CapabilityContext{})
	assert.InDelta(t, defaultBaseCapability, score, 1e-9)
}

func TestGetAdjustedCapabilityReasoningBoost(t *testing.T) {
	m := NewCapabilityModel(testProfiles())

	plain := m.GetAdjustedCapability("exec-a", TaskArchitecture, CapabilityContext{Complexity: 0.5})
	boosted := m.GetAdjustedCapability("exec-a", TaskArchitecture, CapabilityContext{Complexity: 1.0})
	assert.Greater(t, boosted, plain)

	// non-reasoning task types see no complexity boost
	genLow := m.GetAdjustedCapability("exec-a", TaskCodeGen, CapabilityContext{Complexity: 0.5})
	genHigh := m.GetAdjustedCapability("exec-a", TaskCodeGen, CapabilityContext{Complexity: 1.0})
	assert.InDelta(t, genLow, genHigh, 1e-9)
}

func TestGetAdjustedCapabilityContextPenalties(t *testing.T) {
	m := NewCapabilityModel(testProfiles())

	base := m.GetAdjustedCapability("exec-a", TaskCodeGen, CapabilityContext{})
	timePressed := m.GetAdjustedCapability("exec-a", TaskCodeGen, CapabilityContext{TimeSensitive: true})
	costPressed := m.GetAdjustedCapability("exec-a", TaskCodeGen, CapabilityContext{CostSensitive: true})

	assert.InDelta(t, base*0.95, timePressed, 1e-9)
	assert.InDelta(t, base*0.97, costPressed, 1e-9)
}

func TestApplyOutcomeMovesMultiplier(t *testing.T) {
	m := NewCapabilityModel(testProfiles())

	assert.InDelta(t, 1.0, m.Multiplier("exec-a", TaskCodeGen), 1e-9)

	// poor quality pulls the multiplier below 1
	m.ApplyOutcome("exec-a", TaskCodeGen, 0.4)
	after := m.Multiplier("exec-a", TaskCodeGen)
	assert.Less(t, after, 1.0)
	// EMA step: 1 + 0.1*(0.8 - 1)
	assert.InDelta(t, 0.98, after, 1e-9)

	// strong quality pulls it back up
	for i := 0; i < 50; i++ {
		m.ApplyOutcome("exec-a", TaskCodeGen, 1.0)
	}
	assert.Greater(t, m.Multiplier("exec-a", TaskCodeGen), 1.5)
}

func TestApplyOutcomeClamps(t *testing.T) {
	m := NewCapabilityModel(testProfiles())

	for i := 0; i < 200; i++ {
		m.ApplyOutcome("exec-a", TaskCodeGen, 0)
	}
	assert.GreaterOrEqual(t, m.Multiplier("exec-a", TaskCodeGen), minMultiplier)

	for i := 0; i < 500; i++ {
		m.ApplyOutcome("exec-b", TaskCodeGen, 1.0)
	}
	assert.LessOrEqual(t, m.Multiplier("exec-b", TaskCodeGen), maxMultiplier)
}

func TestAdjustedCapabilityStaysInRange(t *testing.T) {
	m := NewCapabilityModel(testProfiles())

	for i := 0; i < 100; i++ {
		m.ApplyOutcome("exec-a", TaskCodeGen, 1.0)
	}
	score := m.GetAdjustedCapability("exec-a", TaskCodeGen, CapabilityContext{Complexity: 1.0})
	assert.LessOrEqual(t, score, 1.0)
	assert.GreaterOrEqual(t, score, 0.0)
}
