// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AidiJackson/codecompanion/orchestrator/budget"
	"github.com/AidiJackson/codecompanion/state"
)

func goodOutcome(taskID, executorID string) TaskOutcome {
	return TaskOutcome{
		TaskID:        taskID,
		ExecutorID:    executorID,
		ProjectID:     "proj-1",
		Tier:          budget.TierMedium,
		TaskType:      TaskCodeGen,
		Complexity:    0.4,
		Success:       true,
		QualityScore:  0.9,
		ExecutionTime: 5 * time.Second,
		TokensUsed:    2000,
		CostUSD:       0.018,
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassSuccess, Classify(TaskOutcome{Success: true, QualityScore: 0.85}))
	assert.Equal(t, ClassPartialSuccess, Classify(TaskOutcome{Success: true, QualityScore: 0.6}))
	assert.Equal(t, ClassFailure, Classify(TaskOutcome{Success: false, QualityScore: 0.9}))
}

func TestRewardBlend(t *testing.T) {
	bandit := NewBanditLearnerWithPrior(1, 1, 42)
	capability := NewCapabilityModel(testProfiles())
	f := NewFeedbackLoop(bandit, capability, FeedbackOptions{})

	// no governor: cost efficiency defaults to 1; fast execution keeps
	// speed efficiency at 1
	reward := f.Reward(goodOutcome("t1", "exec-a"))
	assert.InDelta(t, 0.6*0.9+0.2+0.2, reward, 1e-9)

	// failure zeroes the quality term
	failed := goodOutcome("t1", "exec-a")
	failed.Success = false
	assert.InDelta(t, 0.4, f.Reward(failed), 1e-9)

	// glacial execution erodes the speed term
	slow := goodOutcome("t1", "exec-a")
	slow.ExecutionTime = time.Hour
	assert.Less(t, f.Reward(slow), f.Reward(goodOutcome("t1", "exec-a")))
}

func TestRewardStaysInUnitInterval(t *testing.T) {
	bandit := NewBanditLearnerWithPrior(1, 1, 42)
	capability := NewCapabilityModel(testProfiles())
	f := NewFeedbackLoop(bandit, capability, FeedbackOptions{})

	extreme := goodOutcome("t1", "exec-a")
	extreme.QualityScore = 5
	assert.LessOrEqual(t, f.Reward(extreme), 1.0)
	assert.GreaterOrEqual(t, f.Reward(extreme), 0.0)
}

func TestTrackOutcomeUpdatesLearners(t *testing.T) {
	bandit := NewBanditLearnerWithPrior(1, 1, 42)
	capability := NewCapabilityModel(testProfiles())
	store := state.NewMemoryStore()
	f := NewFeedbackLoop(bandit, capability, FeedbackOptions{Store: store})

	f.TrackOutcome(context.Background(), goodOutcome("t1", "exec-a"))

	arm := bandit.Arm("exec-a")
	assert.Equal(t, int64(1), arm.Pulls)
	assert.Greater(t, arm.Alpha, 1.0)
	assert.NotEqual(t, 1.0, capability.Multiplier("exec-a", TaskCodeGen))

	outcomes, err := store.QueryOutcomes(context.Background(), state.OutcomeFilter{})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "t1", outcomes[0].TaskID)

	arms, err := store.LoadArms(context.Background())
	require.NoError(t, err)
	require.Len(t, arms, 1)
	assert.Equal(t, "exec-a", arms[0].ExecutorID)
}

func TestTrackOutcomeCommitsUsage(t *testing.T) {
	bandit := NewBanditLearnerWithPrior(1, 1, 42)
	capability := NewCapabilityModel(testProfiles())
	store := state.NewMemoryStore()
	governor := budget.NewGovernor(store, budget.NewPricing())
	f := NewFeedbackLoop(bandit, capability, FeedbackOptions{Store: store, Governor: governor})

	f.TrackOutcome(context.Background(), goodOutcome("t1", "exec-a"))

	usage, err := governor.Usage(context.Background(), "proj-1", budget.TierMedium)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), usage.Tokens)
	assert.InDelta(t, 0.018, usage.SpendUSD, 1e-9)
	assert.Equal(t, int64(1), usage.Requests)
}

func TestTrackOutcomeRecordsFailures(t *testing.T) {
	router, bandit, capability := newTestRouter(t, testProfiles(), nil)
	f := NewFeedbackLoop(bandit, capability, FeedbackOptions{Router: router})

	ctx := context.Background()
	for i := 0; i < failureThreshold; i++ {
		failed := goodOutcome("t1", "exec-a")
		failed.Success = false
		f.TrackOutcome(ctx, failed)
	}

	decision, err := router.Route(ctx, testTask("after-failures"), nil)
	require.NoError(t, err)
	assert.Equal(t, "exec-b", decision.ExecutorID)
}

// failingStore rejects every write; learning must carry on regardless
type failingStore struct {
	*state.MemoryStore
}

func (s *failingStore) AppendOutcome(ctx context.Context, o *state.OutcomeRecord) error {
	return errors.New("disk full")
}

func (s *failingStore) SaveArm(ctx context.Context, a *state.ArmRecord) error {
	return errors.New("disk full")
}

func TestTrackOutcomeSwallowsPersistenceErrors(t *testing.T) {
	bandit := NewBanditLearnerWithPrior(1, 1, 42)
	capability := NewCapabilityModel(testProfiles())
	f := NewFeedbackLoop(bandit, capability, FeedbackOptions{
		Store: &failingStore{state.NewMemoryStore()},
	})

	// must not panic or surface the error
	f.TrackOutcome(context.Background(), goodOutcome("t1", "exec-a"))
	assert.Equal(t, int64(1), bandit.Arm("exec-a").Pulls)
}

func TestRetrainRequiresEnoughOutcomes(t *testing.T) {
	bandit := NewBanditLearnerWithPrior(1, 1, 42)
	capability := NewCapabilityModel(testProfiles())
	f := NewFeedbackLoop(bandit, capability, FeedbackOptions{})
	ctx := context.Background()

	for i := 0; i < retrainMinOutcomes-1; i++ {
		f.TrackOutcome(ctx, goodOutcome("t", "exec-a"))
	}
	assert.Equal(t, 0, f.Retrain())

	f.TrackOutcome(ctx, goodOutcome("t", "exec-a"))
	assert.Greater(t, f.Retrain(), 0)
	assert.True(t, f.Predictor().Trained(TaskCodeGen))

	// counter resets after a pass
	assert.Equal(t, 0, f.Retrain())
}

func TestRetrainSkipsSmallGroups(t *testing.T) {
	bandit := NewBanditLearnerWithPrior(1, 1, 42)
	capability := NewCapabilityModel(testProfiles())
	f := NewFeedbackLoop(bandit, capability, FeedbackOptions{})
	ctx := context.Background()

	// ten outcomes spread one per task type never form a big enough group
	types := []TaskType{
		TaskArchitecture, TaskCodeGen, TaskReview, TaskDebugging,
		TaskDocumentation, TaskAnalysis, TaskTesting, TaskGeneral,
	}
	for i := 0; i < retrainMinOutcomes; i++ {
		o := goodOutcome("t", "exec-a")
		o.TaskType = types[i%len(types)]
		o.Complexity = float64(i) / 10
		f.TrackOutcome(ctx, o)
	}
	// only types with >=3 episodes get a model
	trained := f.Retrain()
	assert.LessOrEqual(t, trained, 2)
	assert.False(t, f.Predictor().Trained(TaskReview))
}

func TestProposeWeightsShiftsTowardQuality(t *testing.T) {
	bandit := NewBanditLearnerWithPrior(1, 1, 42)
	capability := NewCapabilityModel(testProfiles())
	f := NewFeedbackLoop(bandit, capability, FeedbackOptions{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		weak := goodOutcome("t", "exec-a")
		weak.QualityScore = 0.3
		f.TrackOutcome(ctx, weak)
	}

	proposed := f.ProposeWeights(TaskCodeGen, testTask("t1"))
	assert.Greater(t, proposed.Quality, DefaultWeights().Quality)
	assert.InDelta(t, 1.0, proposed.Quality+proposed.Cost+proposed.Latency, 1e-9)
}
