// Package economics holds the cost model that gates semantic cache reuse:
// the mismatch-cost calculator and the tunable similarity threshold table.
package economics

import (
	"fmt"
	"math"
	"sync"
)

// MismatchCalculator prices the quality risk of serving a similar-but-not-
// identical cached answer. Higher task weights make reuse more conservative.
type MismatchCalculator struct {
	qualityPenaltyWeight float64

	mu          sync.RWMutex
	taskWeights map[string]float64
}

// NewMismatchCalculator builds a calculator from validated config tables.
// The weights map must contain a "default" entry.
func NewMismatchCalculator(qualityPenaltyWeight float64, taskWeights map[string]float64) *MismatchCalculator {
	weights := make(map[string]float64, len(taskWeights))
	for k, v := range taskWeights {
		weights[k] = v
	}
	return &MismatchCalculator{
		qualityPenaltyWeight: qualityPenaltyWeight,
		taskWeights:          weights,
	}
}

// TaskWeight returns the weight for taskType, falling back to "default".
func (m *MismatchCalculator) TaskWeight(taskType string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.taskWeights[taskType]; ok {
		return w
	}
	return m.taskWeights["default"]
}

// SetTaskWeights atomically replaces the weight table (config reload).
func (m *MismatchCalculator) SetTaskWeights(taskWeights map[string]float64) {
	weights := make(map[string]float64, len(taskWeights))
	for k, v := range taskWeights {
		weights[k] = v
	}
	m.mu.Lock()
	m.taskWeights = weights
	m.mu.Unlock()
}

// Cost computes (1 - similarity) * qualityPenaltyWeight * taskWeight * modelCost.
// At similarity 1.0 the cost is exactly 0. Invalid inputs are rejected.
func (m *MismatchCalculator) Cost(similarity float64, taskType string, modelCost float64) (float64, error) {
	if math.IsNaN(similarity) || math.IsInf(similarity, 0) || similarity < 0 {
		return 0, fmt.Errorf("similarity must be finite and non-negative, got %v", similarity)
	}
	if math.IsNaN(modelCost) || math.IsInf(modelCost, 0) || modelCost < 0 {
		return 0, fmt.Errorf("model cost must be finite and non-negative, got %v", modelCost)
	}
	if similarity > 1 {
		similarity = 1
	}
	return (1 - similarity) * m.qualityPenaltyWeight * m.TaskWeight(taskType) * modelCost, nil
}

// Decision is the outcome of a reuse check.
type Decision struct {
	UseCache     bool
	MismatchCost float64
	Reason       string
}

// ShouldUseCache accepts a cached result only when its mismatch cost is below
// the estimated cost of recomputing the answer.
func (m *MismatchCalculator) ShouldUseCache(similarity float64, taskType string, recomputeCost float64) (Decision, error) {
	mismatchCost, err := m.Cost(similarity, taskType, recomputeCost)
	if err != nil {
		return Decision{}, err
	}
	if mismatchCost == 0 {
		// A perfect match costs nothing to reuse, even for a free model.
		return Decision{
			UseCache: true,
			Reason:   "zero mismatch cost",
		}, nil
	}
	if mismatchCost < recomputeCost {
		return Decision{
			UseCache:     true,
			MismatchCost: mismatchCost,
			Reason:       fmt.Sprintf("mismatch cost %.6f below recompute cost %.6f", mismatchCost, recomputeCost),
		}, nil
	}
	return Decision{
		UseCache:     false,
		MismatchCost: mismatchCost,
		Reason:       fmt.Sprintf("mismatch cost %.6f not below recompute cost %.6f", mismatchCost, recomputeCost),
	}, nil
}
