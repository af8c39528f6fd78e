// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBanditArmCreatedAtPrior(t *testing.T) {
	b := NewBanditLearnerWithPrior(1, 1, 42)

	arm := b.Arm("fresh")
	assert.Equal(t, 1.0, arm.Alpha)
	assert.Equal(t, 1.0, arm.Beta)
	assert.Equal(t, int64(0), arm.Pulls)
}

func TestUpdateArmAccumulates(t *testing.T) {
	b := NewBanditLearnerWithPrior(1, 1, 42)

	b.UpdateArm("exec-a", 0.9, nil)
	b.UpdateArm("exec-a", 0.7, nil)

	arm := b.Arm("exec-a")
	assert.InDelta(t, 1+0.9+0.7, arm.Alpha, 1e-9)
	assert.InDelta(t, 1+0.1+0.3, arm.Beta, 1e-9)
	assert.Equal(t, int64(2), arm.Pulls)
	assert.InDelta(t, 1.6, arm.TotalReward, 1e-9)
}

func TestUpdateArmClampsReward(t *testing.T) {
	b := NewBanditLearnerWithPrior(1, 1, 42)

	b.UpdateArm("exec-a", 1.7, nil)
	b.UpdateArm("exec-a", -0.3, nil)

	arm := b.Arm("exec-a")
	assert.InDelta(t, 2.0, arm.Alpha, 1e-9)
	assert.InDelta(t, 2.0, arm.Beta, 1e-9)
}

func TestSelectArmConvergesToBetterExecutor(t *testing.T) {
	b := NewBanditLearnerWithPrior(1, 1, 7)

	// exec-good succeeds 90% of the time, exec-bad 20%
	for i := 0; i < 100; i++ {
		if i%10 == 0 {
			b.UpdateArm("exec-good", 0, nil)
			b.UpdateArm("exec-bad", 1, nil)
		} else {
			b.UpdateArm("exec-good", 1, nil)
			b.UpdateArm("exec-bad", 0, nil)
		}
	}

	wins := 0
	for i := 0; i < 200; i++ {
		chosen, err := b.SelectArm([]string{"exec-good", "exec-bad"}, nil, nil)
		require.NoError(t, err)
		if chosen == "exec-good" {
			wins++
		}
	}
	assert.Greater(t, wins, 180, "well-separated posteriors should dominate selection")
}

func TestSelectArmRespectsExclusions(t *testing.T) {
	b := NewBanditLearnerWithPrior(1, 1, 42)

	chosen, err := b.SelectArm([]string{"exec-a", "exec-b"}, nil, map[string]bool{"exec-a": true})
	require.NoError(t, err)
	assert.Equal(t, "exec-b", chosen)

	_, err = b.SelectArm([]string{"exec-a"}, nil, map[string]bool{"exec-a": true})
	assert.ErrorIs(t, err, ErrNoEligibleExecutor)
}

func TestContextWeightsLearnAndClamp(t *testing.T) {
	b := NewBanditLearnerWithPrior(1, 1, 42)

	ctx := []float64{1, 0, 1}
	for i := 0; i < 500; i++ {
		b.UpdateArm("exec-a", 1.0, ctx)
	}

	arm := b.Arm("exec-a")
	require.Len(t, arm.ContextWeights, 3)
	for _, w := range arm.ContextWeights {
		assert.LessOrEqual(t, w, 1.0)
		assert.GreaterOrEqual(t, w, -1.0)
	}
	// rewarded features drift positive, absent features stay put
	assert.Greater(t, arm.ContextWeights[0], 0.5)
	assert.InDelta(t, 0, arm.ContextWeights[1], 1e-9)
}

func TestContextAdjustmentShiftsSample(t *testing.T) {
	b := NewBanditLearnerWithPrior(1, 1, 42)

	// teach the arm that feature 0 predicts success
	for i := 0; i < 200; i++ {
		b.UpdateArm("exec-a", 1.0, []float64{1})
	}

	arm := b.Arm("exec-a")
	adj := contextAdjustment(arm.ContextWeights, []float64{1})
	assert.Greater(t, adj, 0.0)
	assert.LessOrEqual(t, adj, 1.0)
}

func TestPosteriorMean(t *testing.T) {
	b := NewBanditLearnerWithPrior(1, 1, 42)

	assert.InDelta(t, 0.5, b.PosteriorMean("fresh"), 1e-9)

	b.UpdateArm("exec-a", 1, nil)
	b.UpdateArm("exec-a", 1, nil)
	// alpha=3, beta=1
	assert.InDelta(t, 0.75, b.PosteriorMean("exec-a"), 1e-9)
}

func TestConfidenceIntervalNarrowsWithEvidence(t *testing.T) {
	b := NewBanditLearnerWithPrior(1, 1, 42)

	freshLo, freshHi := b.ConfidenceInterval("fresh")
	assert.Less(t, freshLo, freshHi)

	for i := 0; i < 500; i++ {
		b.UpdateArm("exec-a", 0.8, nil)
	}
	lo, hi := b.ConfidenceInterval("exec-a")
	assert.Less(t, hi-lo, freshHi-freshLo)
	assert.InDelta(t, 0.8, (lo+hi)/2, 0.1)
}

func TestDecayPullsTowardPriorNeverBelow(t *testing.T) {
	b := NewBanditLearnerWithPrior(1, 1, 42)

	for i := 0; i < 50; i++ {
		b.UpdateArm("stale", 1.0, nil)
	}
	// age the arm artificially
	b.Restore([]BanditArm{func() BanditArm {
		arm := b.Arm("stale")
		arm.LastUpdate = time.Now().UTC().Add(-30 * 24 * time.Hour)
		return arm
	}()})

	before := b.Arm("stale")
	b.Decay(7 * 24 * time.Hour)
	after := b.Arm("stale")

	assert.Less(t, after.Alpha, before.Alpha)
	assert.GreaterOrEqual(t, after.Alpha, 1.0)
	assert.GreaterOrEqual(t, after.Beta, 1.0)
	assert.Less(t, after.Pulls, before.Pulls)
}

func TestDecaySkipsActiveArms(t *testing.T) {
	b := NewBanditLearnerWithPrior(1, 1, 42)

	b.UpdateArm("active", 1.0, nil)
	before := b.Arm("active")
	b.Decay(7 * 24 * time.Hour)
	after := b.Arm("active")

	assert.Equal(t, before.Alpha, after.Alpha)
	assert.Equal(t, before.Beta, after.Beta)
}

func TestRestoreClampsToPrior(t *testing.T) {
	b := NewBanditLearnerWithPrior(1, 1, 42)

	b.Restore([]BanditArm{{ExecutorID: "exec-a", Alpha: 0.2, Beta: 0.4}})
	arm := b.Arm("exec-a")
	assert.Equal(t, 1.0, arm.Alpha)
	assert.Equal(t, 1.0, arm.Beta)
}

func TestSnapshotCopiesArms(t *testing.T) {
	b := NewBanditLearnerWithPrior(1, 1, 42)

	b.UpdateArm("exec-a", 0.5, []float64{0.3})
	b.UpdateArm("exec-b", 0.9, nil)

	arms := b.Snapshot()
	require.Len(t, arms, 2)

	// mutating the snapshot must not touch learner state
	for i := range arms {
		arms[i].Alpha = 99
	}
	assert.NotEqual(t, 99.0, b.Arm("exec-a").Alpha)
}

func TestSampleStaysInUnitInterval(t *testing.T) {
	b := NewBanditLearnerWithPrior(1, 1, 42)

	for i := 0; i < 100; i++ {
		s := b.Sample("exec-a", []float64{1, 1, 1})
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}
