// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// predictor feature layout: bias, overall complexity, normalized cost,
// normalized execution time
const predictorFeatures = 4

// ridgeLambda regularizes the normal equations so degenerate batches
// (identical episodes) still fit
const ridgeLambda = 0.01

// OutcomePredictor is a lightweight per-task-type linear model over
// historical outcomes. It is a secondary signal only: routing never
// depends on it, and it is trained strictly off the routing path.
type OutcomePredictor struct {
	mu     sync.RWMutex
	coeffs map[TaskType][]float64
}

// NewOutcomePredictor returns an empty predictor; Predict reports no
// estimate until the first training pass
func NewOutcomePredictor() *OutcomePredictor {
	return &OutcomePredictor{coeffs: make(map[TaskType][]float64)}
}

// Train fits the task type's linear model by ridge-regularized least
// squares over the given feature rows and quality targets
func (p *OutcomePredictor) Train(taskType TaskType, features [][]float64, targets []float64) error {
	if len(features) == 0 || len(features) != len(targets) {
		return fmt.Errorf("mismatched training data: %d rows, %d targets", len(features), len(targets))
	}

	rows := len(features)
	x := mat.NewDense(rows, predictorFeatures, nil)
	y := mat.NewVecDense(rows, nil)
	for i, row := range features {
		x.Set(i, 0, 1)
		for j := 0; j < predictorFeatures-1 && j < len(row); j++ {
			x.Set(i, j+1, row[j])
		}
		y.SetVec(i, targets[i])
	}

	// normal equations (XᵀX + λI)β = Xᵀy
	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	for i := 0; i < predictorFeatures; i++ {
		xtx.Set(i, i, xtx.At(i, i)+ridgeLambda)
	}
	var xty mat.VecDense
	xty.MulVec(x.T(), y)

	coeffs := mat.NewVecDense(predictorFeatures, nil)
	if err := coeffs.SolveVec(&xtx, &xty); err != nil {
		return fmt.Errorf("failed to fit model for %s: %w", taskType, err)
	}

	fitted := make([]float64, predictorFeatures)
	for i := range fitted {
		fitted[i] = coeffs.AtVec(i)
	}

	p.mu.Lock()
	p.coeffs[taskType] = fitted
	p.mu.Unlock()
	return nil
}

// Predict estimates the expected quality for a task type and feature
// vector; ok is false when the type has no trained model yet
func (p *OutcomePredictor) Predict(taskType TaskType, features []float64) (float64, bool) {
	p.mu.RLock()
	coeffs, ok := p.coeffs[taskType]
	p.mu.RUnlock()
	if !ok {
		return 0, false
	}

	estimate := coeffs[0]
	for i := 0; i < len(coeffs)-1 && i < len(features); i++ {
		estimate += coeffs[i+1] * features[i]
	}
	return clamp01(estimate), true
}

// Trained reports whether a model exists for the task type
func (p *OutcomePredictor) Trained(taskType TaskType) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.coeffs[taskType]
	return ok
}
