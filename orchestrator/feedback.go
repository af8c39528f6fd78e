// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/AidiJackson/codecompanion/events"
	"github.com/AidiJackson/codecompanion/orchestrator/budget"
	"github.com/AidiJackson/codecompanion/shared/logger"
	"github.com/AidiJackson/codecompanion/state"
)

// OutcomeClass buckets a completed task for reporting
type OutcomeClass string

const (
	ClassSuccess        OutcomeClass = "success"
	ClassPartialSuccess OutcomeClass = "partial_success"
	ClassFailure        OutcomeClass = "failure"
)

const (
	// reward blend weights: quality dominates, cost and speed
	// efficiency share the rest
	rewardQualityWeight = 0.6
	rewardCostWeight    = 0.2
	rewardSpeedWeight   = 0.2

	// successQualityMin separates full from partial success
	successQualityMin = 0.8

	// retrainMinOutcomes gates predictor retraining; retrainMinGroup is
	// the smallest per-task-type batch worth fitting
	retrainMinOutcomes = 10
	retrainMinGroup    = 3

	// proposalHistoryWeight blends the historical per-task-type quality
	// average with the predictor estimate when proposing weights
	proposalHistoryWeight = 0.6
)

// episode is one completed task retained in memory for predictor
// training
type episode struct {
	taskType TaskType
	features []float64
	quality  float64
}

// FeedbackLoop consumes completed-task outcomes and folds them into the
// bandit learner, the capability model and the budget ledger. Learning
// is best-effort: persistence failures are logged and swallowed so they
// can never make routing fail.
type FeedbackLoop struct {
	bandit     *BanditLearner
	capability *CapabilityModel
	governor   *budget.Governor
	router     *Router
	store      state.Store
	notifier   events.Notifier
	predictor  *OutcomePredictor
	logger     *logger.Logger

	mu          sync.Mutex
	episodes    []episode
	sinceTrain  int
	qualitySum  map[TaskType]float64
	qualityObs  map[TaskType]int64
	maxEpisodes int
}

// FeedbackOptions carries optional feedback-loop collaborators
type FeedbackOptions struct {
	Governor *budget.Governor
	Router   *Router
	Store    state.Store
	Notifier events.Notifier
}

// NewFeedbackLoop wires the loop to the learners it mutates
func NewFeedbackLoop(bandit *BanditLearner, capability *CapabilityModel, opts FeedbackOptions) *FeedbackLoop {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	return &FeedbackLoop{
		bandit:      bandit,
		capability:  capability,
		governor:    opts.Governor,
		router:      opts.Router,
		store:       opts.Store,
		notifier:    notifier,
		predictor:   NewOutcomePredictor(),
		logger:      logger.New("feedback"),
		qualitySum:  make(map[TaskType]float64),
		qualityObs:  make(map[TaskType]int64),
		maxEpisodes: 1000,
	}
}

// Classify buckets an outcome: failures by the success flag, successes
// split on quality
func Classify(outcome TaskOutcome) OutcomeClass {
	if !outcome.Success {
		return ClassFailure
	}
	if outcome.QualityScore >= successQualityMin {
		return ClassSuccess
	}
	return ClassPartialSuccess
}

// Reward blends quality, cost efficiency and speed efficiency into a
// [0,1] learning signal
func (f *FeedbackLoop) Reward(outcome TaskOutcome) float64 {
	quality := clamp01(outcome.QualityScore)
	if !outcome.Success {
		quality = 0
	}

	costEff := 1.0
	if f.governor != nil && outcome.CostUSD > 0 {
		expected := f.governor.EstimateCost(outcome.ExecutorID, outcome.TokensUsed)
		if expected > 0 {
			costEff = clamp01(expected / outcome.CostUSD)
		}
	}

	speedEff := 1.0
	if actual := outcome.ExecutionTime.Seconds(); actual > 0 {
		speedEff = clamp01(reasonableMaxSeconds(outcome.Complexity) / actual)
	}

	return clamp01(rewardQualityWeight*quality + rewardCostWeight*costEff + rewardSpeedWeight*speedEff)
}

// reasonableMaxSeconds scales the acceptable execution window with
// complexity: 30s for trivial work up to 90s at full complexity
func reasonableMaxSeconds(complexity float64) float64 {
	return 60 * (0.5 + clamp01(complexity))
}

// TrackOutcome applies one completed task to every learner. The bandit
// and capability updates are atomic per executor; persistence and event
// emission are best-effort.
func (f *FeedbackLoop) TrackOutcome(ctx context.Context, outcome TaskOutcome) {
	class := Classify(outcome)
	reward := f.Reward(outcome)
	banditCtx := []float64{clamp01(outcome.Complexity), 0, 0}

	f.bandit.UpdateArm(outcome.ExecutorID, reward, banditCtx)
	f.capability.ApplyOutcome(outcome.ExecutorID, outcome.TaskType, clamp01(outcome.QualityScore))

	if !outcome.Success && f.router != nil {
		f.router.RecordFailure(outcome.ExecutorID)
	}

	if f.governor != nil && outcome.Tier != "" {
		if err := f.governor.Commit(ctx, outcome.ProjectID, outcome.Tier, outcome.TokensUsed, outcome.CostUSD); err != nil {
			log.Printf("[Feedback] failed to commit usage for %s: %v", outcome.ProjectID, err)
		}
	}

	f.persist(ctx, outcome)
	f.accumulate(outcome)

	outcomesTrackedTotal.WithLabelValues(outcome.ExecutorID, string(class)).Inc()
	outcomeReward.WithLabelValues(outcome.ExecutorID).Observe(reward)

	if err := f.notifier.Notify(ctx, events.Event{
		Type:      events.TypeOutcomeTracked,
		ProjectID: outcome.ProjectID,
		TaskID:    outcome.TaskID,
		Payload: map[string]interface{}{
			"executor_id":    outcome.ExecutorID,
			"classification": string(class),
			"reward":         reward,
			"quality_score":  outcome.QualityScore,
		},
		Timestamp: time.Now().UTC(),
	}); err != nil {
		log.Printf("[Feedback] failed to publish outcome event: %v", err)
	}

	f.logger.Info(outcome.ProjectID, outcome.TaskID, "tracked outcome", map[string]interface{}{
		"executor_id":    outcome.ExecutorID,
		"classification": string(class),
		"reward":         reward,
	})
}

// persist writes the outcome and the executor's updated arm; failures
// are logged, never propagated
func (f *FeedbackLoop) persist(ctx context.Context, outcome TaskOutcome) {
	if f.store == nil {
		return
	}
	rec := &state.OutcomeRecord{
		TaskID:        outcome.TaskID,
		ExecutorID:    outcome.ExecutorID,
		ProjectID:     outcome.ProjectID,
		TaskType:      string(outcome.TaskType),
		Complexity:    outcome.Complexity,
		Success:       outcome.Success,
		QualityScore:  outcome.QualityScore,
		ExecutionSecs: outcome.ExecutionTime.Seconds(),
		TokensUsed:    outcome.TokensUsed,
		CostUSD:       outcome.CostUSD,
		ErrorKind:     outcome.ErrorKind,
		Timestamp:     outcome.Timestamp,
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if err := f.store.AppendOutcome(ctx, rec); err != nil {
		log.Printf("[Feedback] failed to append outcome for task %s: %v", outcome.TaskID, err)
	}

	arm := f.bandit.Arm(outcome.ExecutorID)
	if err := f.store.SaveArm(ctx, &state.ArmRecord{
		ExecutorID:     arm.ExecutorID,
		Alpha:          arm.Alpha,
		Beta:           arm.Beta,
		Pulls:          arm.Pulls,
		TotalReward:    arm.TotalReward,
		ContextWeights: arm.ContextWeights,
		UpdatedAt:      arm.LastUpdate,
	}); err != nil {
		log.Printf("[Feedback] failed to save arm %s: %v", outcome.ExecutorID, err)
	}
}

// accumulate retains the outcome as a training episode and updates the
// historical quality averages
func (f *FeedbackLoop) accumulate(outcome TaskOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.episodes = append(f.episodes, episode{
		taskType: outcome.TaskType,
		features: episodeFeatures(outcome),
		quality:  clamp01(outcome.QualityScore),
	})
	if len(f.episodes) > f.maxEpisodes {
		f.episodes = f.episodes[len(f.episodes)-f.maxEpisodes:]
	}
	f.sinceTrain++
	f.qualitySum[outcome.TaskType] += clamp01(outcome.QualityScore)
	f.qualityObs[outcome.TaskType]++
}

// episodeFeatures maps an outcome onto the predictor's feature space
func episodeFeatures(outcome TaskOutcome) []float64 {
	return []float64{
		clamp01(outcome.Complexity),
		clamp01(outcome.CostUSD),
		clamp01(outcome.ExecutionTime.Seconds() / reasonableMaxSeconds(outcome.Complexity)),
	}
}

// Retrain refits the outcome predictor over the retained episodes. It
// is invoked by the caller on a schedule, never on the routing path,
// and is a no-op until enough new outcomes have accumulated. Returns
// the number of task-type models refitted.
func (f *FeedbackLoop) Retrain() int {
	f.mu.Lock()
	if f.sinceTrain < retrainMinOutcomes {
		f.mu.Unlock()
		return 0
	}
	grouped := make(map[TaskType][]episode)
	for _, ep := range f.episodes {
		grouped[ep.taskType] = append(grouped[ep.taskType], ep)
	}
	f.sinceTrain = 0
	f.mu.Unlock()

	trained := 0
	for taskType, eps := range grouped {
		if len(eps) < retrainMinGroup {
			continue
		}
		features := make([][]float64, len(eps))
		targets := make([]float64, len(eps))
		for i, ep := range eps {
			features[i] = ep.features
			targets[i] = ep.quality
		}
		if err := f.predictor.Train(taskType, features, targets); err != nil {
			log.Printf("[Feedback] predictor training failed for %s: %v", taskType, err)
			continue
		}
		trained++
	}
	if trained > 0 {
		predictorRetrainsTotal.Inc()
		log.Printf("[Feedback] retrained predictor for %d task types", trained)
	}
	return trained
}

// Predictor exposes the trained outcome predictor
func (f *FeedbackLoop) Predictor() *OutcomePredictor {
	return f.predictor
}

// ProposeWeights suggests routing weights for a task type. The expected
// quality is the historical average blended 60/40 with the predictor's
// estimate; low expected quality shifts weight from cost and latency
// toward quality. The proposal is advisory only.
func (f *FeedbackLoop) ProposeWeights(taskType TaskType, task TaskDescriptor) RouterWeights {
	f.mu.Lock()
	historical := 0.7
	if obs := f.qualityObs[taskType]; obs > 0 {
		historical = f.qualitySum[taskType] / float64(obs)
	}
	f.mu.Unlock()

	expected := historical
	features := []float64{
		task.Complexity.Overall(),
		0,
		0,
	}
	if predicted, ok := f.predictor.Predict(taskType, features); ok {
		expected = proposalHistoryWeight*historical + (1-proposalHistoryWeight)*predicted
	}

	base := DefaultWeights()
	// shift up to 0.2 of weight toward quality as expectations drop
	shift := 0.2 * clamp01(1-expected)
	return RouterWeights{
		Quality: base.Quality + shift,
		Cost:    base.Cost - shift/2,
		Latency: base.Latency - shift/2,
	}.Normalize()
}
