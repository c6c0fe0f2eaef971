package types

import "time"

// RoutingMode selects the policy used to pick a model on a cache miss.
type RoutingMode string

const (
	ModeAutopilot RoutingMode = "autopilot"
	ModeGuided    RoutingMode = "guided"
	ModeExplicit  RoutingMode = "explicit"
)

// Valid reports whether the mode is one of the three supported policies.
func (m RoutingMode) Valid() bool {
	switch m {
	case ModeAutopilot, ModeGuided, ModeExplicit:
		return true
	}
	return false
}

// OptimizeRequest is the canonical internal representation of an inference
// request entering the optimizer pipeline.
type OptimizeRequest struct {
	RequestID      string `json:"request_id"`
	OrganizationID string `json:"organization_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`

	Prompt      string      `json:"prompt"`
	TaskID      string      `json:"task_id,omitempty"`
	RoutingMode RoutingMode `json:"routing_mode"`

	// Guided mode preferences.
	QualityPreference string `json:"quality_preference,omitempty"`
	LatencyPreference string `json:"latency_preference,omitempty"`

	// Direct constraint overrides (autopilot defaults apply when zero).
	QualityThreshold float64 `json:"quality_threshold,omitempty"`
	LatencyBudgetMs  int     `json:"latency_budget_ms,omitempty"`
	CostBudget       float64 `json:"cost_budget,omitempty"`

	// Explicit mode.
	ModelOverride string `json:"model_override,omitempty"`

	// Tier 3 document context.
	DocumentID string `json:"document_id,omitempty"`

	// Internal tracking.
	ReceivedAt time.Time `json:"-"`
}
