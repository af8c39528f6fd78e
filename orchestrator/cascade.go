// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/AidiJackson/codecompanion/events"
	"github.com/AidiJackson/codecompanion/orchestrator/budget"
	"github.com/AidiJackson/codecompanion/shared/logger"
)

// CascadeStage identifies a state in the quality cascade. The first
// four are review stages, the last three are terminal.
type CascadeStage string

const (
	StageInitialProducer CascadeStage = "initial_producer"
	StagePeerReview      CascadeStage = "peer_review"
	StageQualityCheck    CascadeStage = "quality_check"
	StageFinalApproval   CascadeStage = "final_approval"

	StateApproved    CascadeStage = "approved"
	StateHumanReview CascadeStage = "human_review"
	StateFailed      CascadeStage = "failed"
)

// forwardStages is the fixed forward order; no stage ever re-lowers a
// previously advanced state
var forwardStages = []CascadeStage{
	StageInitialProducer,
	StagePeerReview,
	StageQualityCheck,
	StageFinalApproval,
}

// StageResult is the outcome of one stage-specific check
type StageResult string

const (
	ResultPassed           StageResult = "passed"
	ResultRequiresRevision StageResult = "requires_revision"
	ResultEscalate         StageResult = "escalate"
	ResultFailed           StageResult = "failed"
)

const (
	// defaultStageTimeout bounds each stage's reviewer wait; expiry
	// resolves to Escalate
	defaultStageTimeout = 2 * time.Minute

	// defaultReviewerCount is the peer-review fan-out width
	defaultReviewerCount = 3

	// reviewBlendWeight folds the mean peer-review score into the
	// running quality score
	reviewBlendWeight = 0.4

	// reviewVarianceLimit escalates the quality check when reviewers
	// disagree beyond this variance
	reviewVarianceLimit = 0.05

	// revisionBand is how far below the stage threshold a score may sit
	// and still earn a revision rather than a harsher result
	revisionBand = 0.10

	// failBand is how far below the stage threshold a score fails
	// outright
	failBand = 0.15

	// finalStrongReviewMin and finalStrongReviewCount are the
	// final-approval requirements on individual peer reviews
	finalStrongReviewMin   = 0.8
	finalStrongReviewCount = 2

	maxRevisions = 2
)

// stageThresholds maps (tier, stage) to the confidence required to
// advance without a stage check. Enterprise uses the complex row.
var stageThresholds = map[budget.Tier]map[CascadeStage]float64{
	budget.TierSimple: {
		StageInitialProducer: 0.70,
		StagePeerReview:      0.80,
		StageQualityCheck:    0.85,
		StageFinalApproval:   0.90,
	},
	budget.TierMedium: {
		StageInitialProducer: 0.75,
		StagePeerReview:      0.85,
		StageQualityCheck:    0.90,
		StageFinalApproval:   0.95,
	},
	budget.TierComplex: {
		StageInitialProducer: 0.80,
		StagePeerReview:      0.90,
		StageQualityCheck:    0.92,
		StageFinalApproval:   0.95,
	},
}

// StageThreshold returns the confidence threshold for a (tier, stage)
// pair. Unknown tiers fall back to complex.
func StageThreshold(tier budget.Tier, stage CascadeStage) float64 {
	row, ok := stageThresholds[tier]
	if !ok {
		// enterprise and unknown tiers get the strictest row
		row = stageThresholds[budget.TierComplex]
	}
	return row[stage]
}

// QualityMetrics are the per-dimension quality measurements attached to
// an artifact
type QualityMetrics struct {
	Correctness  float64 `json:"correctness"`
	Completeness float64 `json:"completeness"`
	Clarity      float64 `json:"clarity"`
	Consistency  float64 `json:"consistency"`
}

// Aggregate is the correctness-dominant weighted quality score
func (q QualityMetrics) Aggregate() float64 {
	return clamp01(0.40*q.Correctness + 0.30*q.Completeness + 0.15*q.Clarity + 0.15*q.Consistency)
}

// CascadeArtifact is a produced artifact moving through the cascade
type CascadeArtifact struct {
	TaskID           string         `json:"task_id"`
	ProjectID        string         `json:"project_id"`
	ExecutorID       string         `json:"executor_id"`
	Content          string         `json:"content"`
	Fingerprint      string         `json:"fingerprint"`
	Quality          QualityMetrics `json:"quality"`
	ValidationErrors []string       `json:"validation_errors,omitempty"`
	Reviews          []float64      `json:"reviews,omitempty"`
	Revisions        int            `json:"revisions"`
}

// StageTransition records one step of a cascade run
type StageTransition struct {
	From      CascadeStage `json:"from"`
	To        CascadeStage `json:"to"`
	Result    StageResult  `json:"result"`
	Score     float64      `json:"score"`
	Timestamp time.Time    `json:"timestamp"`
}

// CascadeOutcome is the terminal result of a cascade run
type CascadeOutcome struct {
	State       CascadeStage      `json:"state"`
	Score       float64           `json:"score"`
	Reviews     []float64         `json:"reviews,omitempty"`
	Transitions []StageTransition `json:"transitions"`
	Elapsed     time.Duration     `json:"elapsed"`
}

// Approved reports whether the run ended in full approval
func (o *CascadeOutcome) Approved() bool { return o.State == StateApproved }

// Reviewer scores an artifact in [0,1]. External review systems plug in
// here; absent any, the cascade falls back to a deterministic heuristic
// derived from the artifact's own quality metrics.
type Reviewer interface {
	Review(ctx context.Context, artifact *CascadeArtifact) (float64, error)
}

// heuristicReviewer is the standalone fallback: each simulated reviewer
// reads the quality metrics with a fixed personal skew so the fan-out
// still produces a spread
type heuristicReviewer struct {
	skew float64
}

func (r heuristicReviewer) Review(_ context.Context, artifact *CascadeArtifact) (float64, error) {
	return clamp01(artifact.Quality.Aggregate() + r.skew), nil
}

// defaultReviewers builds the heuristic panel
func defaultReviewers(n int) []Reviewer {
	skews := []float64{0.05, 0, -0.05, 0.02, -0.02}
	reviewers := make([]Reviewer, 0, n)
	for i := 0; i < n; i++ {
		reviewers = append(reviewers, heuristicReviewer{skew: skews[i%len(skews)]})
	}
	return reviewers
}

// Cascade pushes artifacts through increasing-rigor review stages
type Cascade struct {
	reviewers    []Reviewer
	stageTimeout time.Duration
	notifier     events.Notifier
	logger       *logger.Logger
}

// CascadeOptions carries optional cascade collaborators
type CascadeOptions struct {
	Reviewers    []Reviewer
	StageTimeout time.Duration
	Notifier     events.Notifier
}

// NewCascade builds a cascade; nil options get the heuristic reviewer
// panel, the default stage timeout and a no-op notifier
func NewCascade(opts CascadeOptions) *Cascade {
	reviewers := opts.Reviewers
	if len(reviewers) == 0 {
		reviewers = defaultReviewers(defaultReviewerCount)
	}
	timeout := opts.StageTimeout
	if timeout <= 0 {
		timeout = defaultStageTimeout
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	return &Cascade{
		reviewers:    reviewers,
		stageTimeout: timeout,
		notifier:     notifier,
		logger:       logger.New("cascade"),
	}
}

// Evaluate runs the artifact through the cascade until a terminal state
// or a revision request. Escalation to human review is a valid outcome,
// not an error; revision requests return ErrCascadeRevision and outright
// failures return ErrCascadeFailed, both alongside the partial outcome.
func (c *Cascade) Evaluate(ctx context.Context, artifact *CascadeArtifact, tier budget.Tier) (*CascadeOutcome, error) {
	start := time.Now()
	outcome := &CascadeOutcome{State: StageInitialProducer}
	score := artifact.Quality.Aggregate()

	if fp, err := Fingerprint(artifact.Content); err == nil {
		if artifact.Revisions > 0 && fp == artifact.Fingerprint {
			// a revision resubmitted with unchanged content will never
			// score differently; hand it to a human instead of looping
			c.transition(ctx, artifact, StageInitialProducer, StateHumanReview, ResultEscalate, score)
			outcome.Transitions = append(outcome.Transitions, StageTransition{
				From:      StageInitialProducer,
				To:        StateHumanReview,
				Result:    ResultEscalate,
				Score:     score,
				Timestamp: time.Now().UTC(),
			})
			outcome.State = StateHumanReview
			outcome.Score = score
			c.finish(outcome, start)
			return outcome, nil
		}
		artifact.Fingerprint = fp
	}

	for i, stage := range forwardStages {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		threshold := StageThreshold(tier, stage)
		result := ResultPassed
		if score < threshold || stage == StageFinalApproval {
			var err error
			result, score, err = c.runStageCheck(ctx, stage, artifact, score, threshold)
			if err != nil {
				return outcome, err
			}
		}

		next := c.nextState(i, result)
		c.transition(ctx, artifact, stage, next, result, score)
		outcome.Transitions = append(outcome.Transitions, StageTransition{
			From:      stage,
			To:        next,
			Result:    result,
			Score:     score,
			Timestamp: time.Now().UTC(),
		})
		outcome.State = next
		outcome.Score = score
		outcome.Reviews = artifact.Reviews

		switch result {
		case ResultPassed:
			continue
		case ResultRequiresRevision:
			artifact.Revisions++
			c.finish(outcome, start)
			return outcome, fmt.Errorf("%w: stage %s score %.2f below %.2f", ErrCascadeRevision, stage, score, threshold)
		case ResultEscalate:
			c.finish(outcome, start)
			return outcome, nil
		case ResultFailed:
			c.finish(outcome, start)
			return outcome, fmt.Errorf("%w: stage %s score %.2f", ErrCascadeFailed, stage, score)
		}
	}

	outcome.State = StateApproved
	c.finish(outcome, start)
	return outcome, nil
}

// nextState maps a stage index and check result to the following state
func (c *Cascade) nextState(stageIdx int, result StageResult) CascadeStage {
	switch result {
	case ResultPassed:
		if stageIdx+1 < len(forwardStages) {
			return forwardStages[stageIdx+1]
		}
		return StateApproved
	case ResultRequiresRevision:
		return StageInitialProducer
	case ResultEscalate:
		return StateHumanReview
	default:
		return StateFailed
	}
}

// runStageCheck runs the stage-specific check for an artifact whose
// running score sits below the stage threshold (final approval always
// runs its check)
func (c *Cascade) runStageCheck(ctx context.Context, stage CascadeStage, artifact *CascadeArtifact, score, threshold float64) (StageResult, float64, error) {
	switch stage {
	case StageInitialProducer:
		if artifact.Revisions >= maxRevisions {
			return ResultEscalate, score, nil
		}
		if score < threshold-failBand {
			return ResultFailed, score, nil
		}
		return ResultRequiresRevision, score, nil

	case StagePeerReview:
		reviews, err := c.collectReviews(ctx, artifact)
		if err != nil {
			// reviewer silence within the stage window is an
			// escalation, not a failure
			return ResultEscalate, score, nil
		}
		artifact.Reviews = append(artifact.Reviews, reviews...)
		score = (1-reviewBlendWeight)*score + reviewBlendWeight*mean(reviews)
		switch {
		case score >= threshold:
			return ResultPassed, score, nil
		case score >= threshold-revisionBand && artifact.Revisions < maxRevisions:
			return ResultRequiresRevision, score, nil
		case score >= threshold-failBand:
			return ResultEscalate, score, nil
		default:
			return ResultFailed, score, nil
		}

	case StageQualityCheck:
		if len(artifact.ValidationErrors) > 0 {
			if artifact.Revisions < maxRevisions {
				return ResultRequiresRevision, score, nil
			}
			return ResultFailed, score, nil
		}
		if variance(artifact.Reviews) > reviewVarianceLimit {
			return ResultEscalate, score, nil
		}
		if score < threshold-failBand {
			return ResultFailed, score, nil
		}
		return ResultEscalate, score, nil

	case StageFinalApproval:
		// artifacts that sailed past peer review on raw quality still
		// need reviews on record for approval
		if len(artifact.Reviews) < finalStrongReviewCount {
			reviews, err := c.collectReviews(ctx, artifact)
			if err != nil {
				return ResultEscalate, score, nil
			}
			artifact.Reviews = append(artifact.Reviews, reviews...)
		}
		strong := 0
		for _, r := range artifact.Reviews {
			if r >= finalStrongReviewMin {
				strong++
			}
		}
		if score >= threshold && len(artifact.ValidationErrors) == 0 && strong >= finalStrongReviewCount {
			return ResultPassed, score, nil
		}
		if score < threshold-failBand {
			return ResultFailed, score, nil
		}
		return ResultEscalate, score, nil
	}
	return ResultEscalate, score, nil
}

// collectReviews fans out to the reviewer panel concurrently under the
// stage timeout and returns whatever scores arrived in time
func (c *Cascade) collectReviews(ctx context.Context, artifact *CascadeArtifact) ([]float64, error) {
	stageCtx, cancel := context.WithTimeout(ctx, c.stageTimeout)
	defer cancel()

	var mu sync.Mutex
	var scores []float64
	var wg sync.WaitGroup

	for _, reviewer := range c.reviewers {
		wg.Add(1)
		go func(rv Reviewer) {
			defer wg.Done()
			score, err := rv.Review(stageCtx, artifact)
			if err != nil {
				log.Printf("[Cascade] reviewer error for task %s: %v", artifact.TaskID, err)
				return
			}
			mu.Lock()
			scores = append(scores, clamp01(score))
			mu.Unlock()
		}(reviewer)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-stageCtx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	if len(scores) == 0 {
		return nil, fmt.Errorf("no reviewer responses within %s", c.stageTimeout)
	}
	return append([]float64(nil), scores...), nil
}

// transition publishes one stage transition to the notifier and metrics
func (c *Cascade) transition(ctx context.Context, artifact *CascadeArtifact, from, to CascadeStage, result StageResult, score float64) {
	cascadeStageTotal.WithLabelValues(string(from), string(result)).Inc()
	if err := c.notifier.Notify(ctx, events.Event{
		Type:      events.TypeCascadeTransition,
		ProjectID: artifact.ProjectID,
		TaskID:    artifact.TaskID,
		Payload: map[string]interface{}{
			"from":   string(from),
			"to":     string(to),
			"result": string(result),
			"score":  score,
		},
		Timestamp: time.Now().UTC(),
	}); err != nil {
		log.Printf("[Cascade] failed to publish transition event: %v", err)
	}
}

// finish stamps terminal metrics on a completed run
func (c *Cascade) finish(outcome *CascadeOutcome, start time.Time) {
	outcome.Elapsed = time.Since(start)
	cascadeTerminalTotal.WithLabelValues(string(outcome.State)).Inc()
	cascadeDuration.WithLabelValues(string(outcome.State)).Observe(outcome.Elapsed.Seconds())
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(values))
}
