// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package budget

import (
	"encoding/json"
	"os"
	"sync"
)

// Pricing holds per-executor token pricing in USD per 1K tokens
type Pricing struct {
	Executors map[string]float64 `json:"executors"`
	mu        sync.RWMutex
}

// defaultPricing is the shipped cost-per-1K table for the stock executor
// catalog. Unknown executors fall back to the "*" entry.
var defaultPricing = map[string]float64{
	"claude-opus":   0.045,
	"claude-sonnet": 0.009,
	"claude-haiku":  0.0024,
	"gpt-4o":        0.00625,
	"gpt-4o-mini":   0.000375,
	"gemini-pro":    0.003125,
	"local":         0,
	"*":             0.01,
}

// NewPricing returns a pricing table seeded with the defaults
func NewPricing() *Pricing {
	executors := make(map[string]float64, len(defaultPricing))
	for id, cost := range defaultPricing {
		executors[id] = cost
	}
	return &Pricing{Executors: executors}
}

// LoadPricingFromEnv returns the default pricing overlaid with any
// overrides from the EXECUTOR_PRICING_JSON environment variable.
// A malformed override is ignored in favor of the defaults.
func LoadPricingFromEnv() *Pricing {
	p := NewPricing()

	raw := os.Getenv("EXECUTOR_PRICING_JSON")
	if raw == "" {
		return p
	}

	var overrides map[string]float64
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return p
	}

	p.mu.Lock()
	for id, cost := range overrides {
		p.Executors[id] = cost
	}
	p.mu.Unlock()

	return p
}

// CostPer1K returns the per-1K-token price for an executor
func (p *Pricing) CostPer1K(executorID string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if cost, ok := p.Executors[executorID]; ok {
		return cost
	}
	return p.Executors["*"]
}

// SetCost sets or overrides the price for an executor
func (p *Pricing) SetCost(executorID string, costPer1K float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Executors[executorID] = costPer1K
}

// EstimateCost projects the USD cost of running tokens through an executor
func (p *Pricing) EstimateCost(executorID string, tokens int) float64 {
	return float64(tokens) / 1000 * p.CostPer1K(executorID)
}
