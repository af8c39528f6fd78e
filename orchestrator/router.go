// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AidiJackson/codecompanion/events"
	"github.com/AidiJackson/codecompanion/orchestrator/budget"
	"github.com/AidiJackson/codecompanion/shared/logger"
	"github.com/AidiJackson/codecompanion/state"
)

const (
	// failureThreshold and failureWindow control recent-failure
	// avoidance: an executor with this many failures inside the window
	// is skipped when alternatives exist
	failureThreshold = 3
	failureWindow    = 5 * time.Minute

	// loadSwitchThreshold and loadSwitchScoreRatio control the
	// load-balancing rule: when the top executor is above the load
	// threshold, an alternative scoring at least this fraction of the
	// top score and carrying materially less load takes the task
	loadSwitchThreshold  = 0.8
	loadSwitchScoreRatio = 0.85
	loadSwitchMargin     = 0.3

	// explorationScale sizes the zero-mean Thompson bonus added to
	// every score
	explorationScale = 0.05

	maxAlternatives = 3
)

// RouterWeights are the multi-objective scoring weights. They always
// sum to 1 after renormalization.
type RouterWeights struct {
	Quality float64 `json:"quality" yaml:"quality"`
	Cost    float64 `json:"cost" yaml:"cost"`
	Latency float64 `json:"latency" yaml:"latency"`
}

// DefaultWeights returns the standard quality-dominant weighting
func DefaultWeights() RouterWeights {
	return RouterWeights{Quality: 0.6, Cost: 0.2, Latency: 0.2}
}

// Normalize rescales the weights to sum to 1. Non-positive totals reset
// to the defaults.
func (w RouterWeights) Normalize() RouterWeights {
	total := w.Quality + w.Cost + w.Latency
	if total <= 0 {
		return DefaultWeights()
	}
	return RouterWeights{
		Quality: w.Quality / total,
		Cost:    w.Cost / total,
		Latency: w.Latency / total,
	}
}

// failureTracker records per-executor failure timestamps inside a
// sliding window
type failureTracker struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	window   time.Duration
}

func newFailureTracker(window time.Duration) *failureTracker {
	return &failureTracker{failures: make(map[string][]time.Time), window: window}
}

func (t *failureTracker) record(executorID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[executorID] = append(t.trim(executorID, at), at)
}

func (t *failureTracker) count(executorID string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	recent := t.trim(executorID, now)
	t.failures[executorID] = recent
	return len(recent)
}

// trim drops entries older than the window; callers hold the lock
func (t *failureTracker) trim(executorID string, now time.Time) []time.Time {
	cutoff := now.Add(-t.window)
	kept := t.failures[executorID][:0]
	for _, ts := range t.failures[executorID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

// loadTracker counts in-flight tasks per executor
type loadTracker struct {
	mu       sync.Mutex
	inFlight map[string]int
}

func newLoadTracker() *loadTracker {
	return &loadTracker{inFlight: make(map[string]int)}
}

func (t *loadTracker) begin(executorID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight[executorID]++
}

func (t *loadTracker) end(executorID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight[executorID] > 0 {
		t.inFlight[executorID]--
	}
}

func (t *loadTracker) load(executorID string, maxConcurrent int) float64 {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	load := float64(t.inFlight[executorID]) / float64(maxConcurrent)
	if load > 1 {
		load = 1
	}
	return load
}

// Router selects the best executor for each task by combining adjusted
// capability, cost, latency, live load and a Thompson exploration bonus
type Router struct {
	capability *CapabilityModel
	bandit     *BanditLearner
	governor   *budget.Governor
	store      state.Store
	notifier   events.Notifier
	logger     *logger.Logger

	mu       sync.RWMutex
	weights  RouterWeights
	profiles map[string]ExecutorProfile

	failures *failureTracker
	loads    *loadTracker
}

// RouterOptions carries optional router collaborators; nil fields get
// safe defaults
type RouterOptions struct {
	Store    state.Store
	Notifier events.Notifier
	Weights  *RouterWeights
}

// NewRouter builds a router over the given executor catalog
func NewRouter(profiles []ExecutorProfile, capability *CapabilityModel, bandit *BanditLearner, governor *budget.Governor, opts RouterOptions) *Router {
	byID := make(map[string]ExecutorProfile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	weights := DefaultWeights()
	if opts.Weights != nil {
		weights = opts.Weights.Normalize()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = events.NopNotifier{}
	}

	return &Router{
		capability: capability,
		bandit:     bandit,
		governor:   governor,
		store:      opts.Store,
		notifier:   notifier,
		logger:     logger.New("router"),
		weights:    weights,
		profiles:   byID,
		failures:   newFailureTracker(failureWindow),
		loads:      newLoadTracker(),
	}
}

// Weights returns the current scoring weights
func (r *Router) Weights() RouterWeights {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.weights
}

// UpdateWeights replaces the scoring weights, renormalizing to sum to 1
func (r *Router) UpdateWeights(w RouterWeights) RouterWeights {
	normalized := w.Normalize()
	r.mu.Lock()
	r.weights = normalized
	r.mu.Unlock()
	log.Printf("[Router] weights updated: quality=%.2f cost=%.2f latency=%.2f",
		normalized.Quality, normalized.Cost, normalized.Latency)
	return normalized
}

// Profiles returns a copy of the executor catalog
func (r *Router) Profiles() []ExecutorProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ExecutorProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Profile looks up one executor by ID
func (r *Router) Profile(executorID string) (ExecutorProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[executorID]
	return p, ok
}

// candidate carries one executor's scoring breakdown during selection
type candidate struct {
	profile ExecutorProfile
	score   float64
	scores  ComponentScores
	load    float64
	flaky   bool
}

// Route picks the best executor for a task among eligibleIDs (nil or
// empty means the whole catalog). Executors with too many recent
// failures are skipped when alternatives exist, unaffordable executors
// are filtered per the project budget, and a loaded top choice yields
// to a close-scoring lighter alternative.
func (r *Router) Route(ctx context.Context, task TaskDescriptor, eligibleIDs []string) (*RoutingDecision, error) {
	start := time.Now()
	if err := task.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	weights := r.weights
	profiles := make([]ExecutorProfile, 0, len(r.profiles))
	if len(eligibleIDs) > 0 {
		for _, id := range eligibleIDs {
			if p, ok := r.profiles[id]; ok {
				profiles = append(profiles, p)
			}
		}
	} else {
		for _, p := range r.profiles {
			profiles = append(profiles, p)
		}
	}
	r.mu.RUnlock()

	if len(profiles) == 0 {
		return nil, ErrNoEligibleExecutor
	}

	// budget filter runs before scoring so an exhausted project fails
	// fast with the affordability error
	affordable := profiles[:0]
	anyEligible := false
	for _, p := range profiles {
		if _, ok := p.Capabilities[task.Type]; !ok {
			if _, ok := p.Capabilities[TaskGeneral]; !ok {
				continue
			}
		}
		anyEligible = true
		if r.governor != nil && !r.governor.CanAfford(ctx, task.ProjectID, p.ID, task.Complexity.EstimatedTokens, task.Tier) {
			continue
		}
		affordable = append(affordable, p)
	}
	if !anyEligible {
		return nil, ErrNoEligibleExecutor
	}
	if len(affordable) == 0 {
		return nil, fmt.Errorf("%w: project %s tier %s", ErrNoAffordableExecutor, task.ProjectID, task.Tier)
	}

	now := time.Now()
	capCtx := CapabilityContext{
		Complexity:    task.Complexity.Overall(),
		TimeSensitive: task.TimeSensitive,
		CostSensitive: task.CostSensitive,
	}
	banditCtx := contextVector(task)

	candidates := make([]candidate, 0, len(affordable))
	for _, p := range affordable {
		quality := r.capability.GetAdjustedCapability(p.ID, task.Type, capCtx)
		load := r.loads.load(p.ID, p.MaxConcurrent)

		scores := ComponentScores{
			Quality: quality,
			Cost:    p.CostScore,
			Latency: p.LatencyScore,
		}

		score := weights.Quality*quality -
			weights.Cost*(1-p.CostScore) -
			weights.Latency*(p.LatencyScore+load)

		// zero-mean exploration: high-variance arms get nudged up or
		// down, well-known arms barely move
		sample := r.bandit.Sample(p.ID, banditCtx)
		mean := r.bandit.PosteriorMean(p.ID)
		score += explorationScale * (sample - mean)

		candidates = append(candidates, candidate{
			profile: p,
			score:   score,
			scores:  scores,
			load:    load,
			flaky:   r.failures.count(p.ID, now) >= failureThreshold,
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	chosen := pickCandidate(candidates)

	decision := &RoutingDecision{
		ID:         uuid.NewString(),
		TaskID:     task.ID,
		ProjectID:  task.ProjectID,
		TaskType:   task.Type,
		ExecutorID: chosen.profile.ID,
		Score:      chosen.score,
		Scores:     chosen.scores,
		Confidence: confidence(candidates),
		Timestamp:  now.UTC(),
	}
	for _, c := range candidates {
		if c.profile.ID == chosen.profile.ID {
			continue
		}
		decision.Alternatives = append(decision.Alternatives, RankedAlternative{
			ExecutorID: c.profile.ID,
			Score:      c.score,
		})
		if len(decision.Alternatives) == maxAlternatives {
			break
		}
	}

	r.persistDecision(ctx, decision)

	routingDecisionsTotal.WithLabelValues(string(task.Type), chosen.profile.ID).Inc()
	routingDuration.Observe(time.Since(start).Seconds())

	r.logger.Info(task.ProjectID, task.ID, "routed task", map[string]interface{}{
		"executor_id": chosen.profile.ID,
		"score":       chosen.score,
		"confidence":  decision.Confidence,
		"candidates":  len(candidates),
	})
	return decision, nil
}

// pickCandidate applies the recent-failure and load-balancing rules to
// an already-sorted candidate list
func pickCandidate(candidates []candidate) candidate {
	chosen := candidates[0]

	// recent-failure avoidance falls through to the flaky leader only
	// when every candidate is flaky
	if chosen.flaky {
		for _, c := range candidates[1:] {
			if !c.flaky {
				chosen = c
				break
			}
		}
	}

	// load-balancing: a loaded leader yields to a close alternative
	// carrying materially less load
	if chosen.load > loadSwitchThreshold {
		for _, c := range candidates {
			if c.profile.ID == chosen.profile.ID || c.flaky {
				continue
			}
			if c.score >= loadSwitchScoreRatio*chosen.score && c.load <= chosen.load-loadSwitchMargin {
				chosen = c
				break
			}
		}
	}
	return chosen
}

// confidence is the normalized gap between the top two scores; a single
// candidate scores full confidence
func confidence(candidates []candidate) float64 {
	if len(candidates) < 2 {
		return 1.0
	}
	top, second := candidates[0].score, candidates[1].score
	denom := absFloat(top)
	if denom < 1e-9 {
		denom = 1e-9
	}
	return clamp01((top - second) / denom)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// contextVector maps a task onto the bandit's context features
func contextVector(task TaskDescriptor) []float64 {
	timeSensitive := 0.0
	if task.TimeSensitive {
		timeSensitive = 1.0
	}
	costSensitive := 0.0
	if task.CostSensitive {
		costSensitive = 1.0
	}
	return []float64{task.Complexity.Overall(), timeSensitive, costSensitive}
}

// persistDecision writes the decision to the store and publishes the
// routing event; failures are logged, never surfaced to the caller
func (r *Router) persistDecision(ctx context.Context, decision *RoutingDecision) {
	if r.store != nil {
		rec := decisionRecord(decision)
		if err := r.store.SaveDecision(ctx, &rec); err != nil {
			log.Printf("[Router] failed to persist decision %s: %v", decision.ID, err)
		}
	}
	if err := r.notifier.Notify(ctx, events.Event{
		Type:      events.TypeRoutingDecision,
		ProjectID: decision.ProjectID,
		TaskID:    decision.TaskID,
		Payload: map[string]interface{}{
			"decision_id": decision.ID,
			"executor_id": decision.ExecutorID,
			"task_type":   string(decision.TaskType),
			"score":       decision.Score,
			"confidence":  decision.Confidence,
		},
		Timestamp: decision.Timestamp,
	}); err != nil {
		log.Printf("[Router] failed to publish routing event: %v", err)
	}
}

// BeginWork marks an executor as carrying one more in-flight task and
// bumps the project's concurrency counter
func (r *Router) BeginWork(ctx context.Context, executorID, projectID string) {
	r.loads.begin(executorID)
	if r.governor != nil {
		if err := r.governor.TrackConcurrency(ctx, projectID, 1); err != nil {
			log.Printf("[Router] concurrency tracking failed for %s: %v", projectID, err)
		}
	}
	executorInFlight.WithLabelValues(executorID).Inc()
}

// EndWork releases an in-flight slot
func (r *Router) EndWork(ctx context.Context, executorID, projectID string) {
	r.loads.end(executorID)
	if r.governor != nil {
		if err := r.governor.TrackConcurrency(ctx, projectID, -1); err != nil {
			log.Printf("[Router] concurrency tracking failed for %s: %v", projectID, err)
		}
	}
	executorInFlight.WithLabelValues(executorID).Dec()
}

// RecordFailure feeds the recent-failure tracker
func (r *Router) RecordFailure(executorID string) {
	r.failures.record(executorID, time.Now())
	executorFailuresTotal.WithLabelValues(executorID).Inc()
}

// Load reports an executor's current load fraction
func (r *Router) Load(executorID string) float64 {
	p, ok := r.Profile(executorID)
	if !ok {
		return 0
	}
	return r.loads.load(executorID, p.MaxConcurrent)
}

// decisionRecord flattens a decision for the store
func decisionRecord(d *RoutingDecision) state.DecisionRecord {
	rec := state.DecisionRecord{
		ID:           d.ID,
		TaskID:       d.TaskID,
		ProjectID:    d.ProjectID,
		TaskType:     string(d.TaskType),
		ExecutorID:   d.ExecutorID,
		Score:        d.Score,
		QualityScore: d.Scores.Quality,
		CostScore:    d.Scores.Cost,
		LatencyScore: d.Scores.Latency,
		Confidence:   d.Confidence,
		Timestamp:    d.Timestamp,
	}
	if len(d.Alternatives) > 0 {
		if raw, err := json.Marshal(d.Alternatives); err == nil {
			rec.Alternatives = raw
		}
	}
	return rec
}
