// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"math"
	"sync"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// defaultPriorAlpha and defaultPriorBeta form the uniform Beta(1,1)
	// prior; arm parameters never collapse below the prior
	defaultPriorAlpha = 1.0
	defaultPriorBeta  = 1.0

	// contextLearningRate nudges per-context weights toward
	// reward * feature_value on each update
	contextLearningRate = 0.1

	// contextBonusScale scales the normalized context dot-product added
	// to a Thompson sample
	contextBonusScale = 0.1

	// decayPerDay is the per-day factor pulling idle arms toward the prior
	decayPerDay = 0.95
)

// BanditArm holds the Beta-Bernoulli posterior and context weights for
// one executor. Arms are created on first reference and never deleted,
// only decayed.
type BanditArm struct {
	ExecutorID     string    `json:"executor_id"`
	Alpha          float64   `json:"alpha"`
	Beta           float64   `json:"beta"`
	Pulls          int64     `json:"pulls"`
	TotalReward    float64   `json:"total_reward"`
	ContextWeights []float64 `json:"context_weights,omitempty"`
	LastUpdate     time.Time `json:"last_update"`
}

// armState wraps an arm with its own lock so updates for different
// executors never block each other
type armState struct {
	mu  sync.Mutex
	arm BanditArm
}

// BanditLearner is a Thompson-sampling arm-selection engine over the
// executor pool
type BanditLearner struct {
	mu   sync.RWMutex
	arms map[string]*armState

	priorAlpha float64
	priorBeta  float64

	rngMu sync.Mutex
	src   *rand.Rand
}

// NewBanditLearner creates a learner with the default uniform prior
func NewBanditLearner() *BanditLearner {
	return NewBanditLearnerWithPrior(defaultPriorAlpha, defaultPriorBeta, uint64(time.Now().UnixNano()))
}

// NewBanditLearnerWithPrior creates a learner with an explicit prior and
// RNG seed. Tests pass a fixed seed for reproducible sampling.
func NewBanditLearnerWithPrior(priorAlpha, priorBeta float64, seed uint64) *BanditLearner {
	if priorAlpha <= 0 {
		priorAlpha = defaultPriorAlpha
	}
	if priorBeta <= 0 {
		priorBeta = defaultPriorBeta
	}
	return &BanditLearner{
		arms:       make(map[string]*armState),
		priorAlpha: priorAlpha,
		priorBeta:  priorBeta,
		src:        rand.New(rand.NewSource(seed)),
	}
}

// ensureArm returns the arm state for an executor, creating it at the
// prior on first reference
func (b *BanditLearner) ensureArm(executorID string) *armState {
	b.mu.RLock()
	s, ok := b.arms[executorID]
	b.mu.RUnlock()
	if ok {
		return s
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.arms[executorID]; ok {
		return s
	}
	s = &armState{arm: BanditArm{
		ExecutorID: executorID,
		Alpha:      b.priorAlpha,
		Beta:       b.priorBeta,
		LastUpdate: time.Now().UTC(),
	}}
	b.arms[executorID] = s
	return s
}

// betaSample draws from Beta(alpha, beta); sampling failures fall back
// to the posterior mean rather than raising
func (b *BanditLearner) betaSample(alpha, beta float64) float64 {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()

	dist := distuv.Beta{Alpha: alpha, Beta: beta, Src: b.src}
	sample := dist.Rand()
	if math.IsNaN(sample) || math.IsInf(sample, 0) {
		return alpha / (alpha + beta)
	}
	return sample
}

// Sample draws an adjusted Thompson sample for one executor. A supplied
// context vector shifts the sample by the normalized dot-product against
// the arm's per-context weights.
func (b *BanditLearner) Sample(executorID string, context []float64) float64 {
	s := b.ensureArm(executorID)

	s.mu.Lock()
	alpha, beta := s.arm.Alpha, s.arm.Beta
	weights := append([]float64(nil), s.arm.ContextWeights...)
	s.mu.Unlock()

	sample := b.betaSample(alpha, beta)

	if len(context) > 0 {
		sample = clamp01(sample + contextBonusScale*contextAdjustment(weights, context))
	}
	return sample
}

// contextAdjustment is the dot-product of weights and features,
// normalized into [-1, 1] by the feature magnitudes
func contextAdjustment(weights, context []float64) float64 {
	dot := 0.0
	norm := 0.0
	for i, x := range context {
		if i < len(weights) {
			dot += weights[i] * x
		}
		norm += math.Abs(x)
	}
	if norm == 0 {
		return 0
	}
	return dot / norm
}

// SelectArm samples every eligible executor and returns the one with the
// highest adjusted sample. Executors in exclude are skipped.
func (b *BanditLearner) SelectArm(candidates []string, context []float64, exclude map[string]bool) (string, error) {
	best := ""
	bestSample := math.Inf(-1)
	for _, id := range candidates {
		if exclude[id] {
			continue
		}
		sample := b.Sample(id, context)
		if sample > bestSample {
			best = id
			bestSample = sample
		}
	}
	if best == "" {
		return "", ErrNoEligibleExecutor
	}
	return best, nil
}

// UpdateArm folds a reward in [0,1] into the executor's posterior and,
// when a context is given, nudges the per-context weights
func (b *BanditLearner) UpdateArm(executorID string, reward float64, context []float64) {
	reward = clamp01(reward)
	s := b.ensureArm(executorID)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.arm.Alpha += reward
	s.arm.Beta += 1 - reward
	s.arm.Pulls++
	s.arm.TotalReward += reward
	s.arm.LastUpdate = time.Now().UTC()

	if len(context) > 0 {
		if len(s.arm.ContextWeights) < len(context) {
			grown := make([]float64, len(context))
			copy(grown, s.arm.ContextWeights)
			s.arm.ContextWeights = grown
		}
		for i, x := range context {
			w := s.arm.ContextWeights[i]
			w += contextLearningRate * (reward*x - w)
			if w < -1 {
				w = -1
			}
			if w > 1 {
				w = 1
			}
			s.arm.ContextWeights[i] = w
		}
	}
}

// PosteriorMean returns alpha/(alpha+beta) for an executor's arm
func (b *BanditLearner) PosteriorMean(executorID string) float64 {
	s := b.ensureArm(executorID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arm.Alpha / (s.arm.Alpha + s.arm.Beta)
}

// ConfidenceInterval returns the 95% interval of the arm's posterior.
// The exact Beta quantile is used; degenerate parameters fall back to a
// normal approximation.
func (b *BanditLearner) ConfidenceInterval(executorID string) (float64, float64) {
	s := b.ensureArm(executorID)
	s.mu.Lock()
	alpha, beta := s.arm.Alpha, s.arm.Beta
	s.mu.Unlock()

	dist := distuv.Beta{Alpha: alpha, Beta: beta}
	lo := dist.Quantile(0.025)
	hi := dist.Quantile(0.975)
	if math.IsNaN(lo) || math.IsNaN(hi) {
		mean := alpha / (alpha + beta)
		variance := alpha * beta / ((alpha + beta) * (alpha + beta) * (alpha + beta + 1))
		sd := math.Sqrt(variance)
		lo = clamp01(mean - 1.96*sd)
		hi = clamp01(mean + 1.96*sd)
	}
	return lo, hi
}

// Decay pulls arms untouched for longer than idleWindow toward the
// prior by a per-day factor, preventing stale arms from dominating.
// Parameters never drop below the prior.
func (b *BanditLearner) Decay(idleWindow time.Duration) {
	now := time.Now().UTC()

	b.mu.RLock()
	states := make([]*armState, 0, len(b.arms))
	for _, s := range b.arms {
		states = append(states, s)
	}
	b.mu.RUnlock()

	for _, s := range states {
		s.mu.Lock()
		idle := now.Sub(s.arm.LastUpdate)
		if idle > idleWindow {
			factor := math.Pow(decayPerDay, idle.Hours()/24)
			s.arm.Alpha = b.priorAlpha + (s.arm.Alpha-b.priorAlpha)*factor
			s.arm.Beta = b.priorBeta + (s.arm.Beta-b.priorBeta)*factor
			s.arm.Pulls = int64(float64(s.arm.Pulls) * factor)
			s.arm.TotalReward *= factor
		}
		s.mu.Unlock()
	}
}

// Snapshot returns a copy of every arm for persistence
func (b *BanditLearner) Snapshot() []BanditArm {
	b.mu.RLock()
	states := make([]*armState, 0, len(b.arms))
	for _, s := range b.arms {
		states = append(states, s)
	}
	b.mu.RUnlock()

	arms := make([]BanditArm, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		arm := s.arm
		arm.ContextWeights = append([]float64(nil), s.arm.ContextWeights...)
		s.mu.Unlock()
		arms = append(arms, arm)
	}
	return arms
}

// Arm returns a copy of one executor's arm
func (b *BanditLearner) Arm(executorID string) BanditArm {
	s := b.ensureArm(executorID)
	s.mu.Lock()
	defer s.mu.Unlock()
	arm := s.arm
	arm.ContextWeights = append([]float64(nil), s.arm.ContextWeights...)
	return arm
}

// Restore seeds the learner from persisted arms, clamping parameters to
// at least the prior
func (b *BanditLearner) Restore(arms []BanditArm) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, arm := range arms {
		if arm.Alpha < b.priorAlpha {
			arm.Alpha = b.priorAlpha
		}
		if arm.Beta < b.priorBeta {
			arm.Beta = b.priorBeta
		}
		b.arms[arm.ExecutorID] = &armState{arm: arm}
	}
}
