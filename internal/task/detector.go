// Package task classifies prompts into task types by keyword matching.
// Detection is deterministic and side-effect-free; it makes no external calls.
package task

import (
	"strings"
)

// Task types produced by the detector.
const (
	TypeGeneral   = "general"
	TypeFAQ       = "faq"
	TypeCoding    = "coding"
	TypeReasoning = "reasoning"
	TypeSummarize = "summarize"
	TypeLegal     = "legal"
	TypeCreative  = "creative"
)

// Result is the outcome of classifying one prompt.
type Result struct {
	TaskType      string
	Confidence    float64
	Intent        string
	LowConfidence bool
}

// rule maps a pattern set to a task type. Rules are ordered; the first type
// reaching the highest distinct-pattern count wins.
type rule struct {
	taskType string
	patterns []string
}

var rules = []rule{
	{TypeCoding, []string{"code", "function", "debug", "implement", "compile", "refactor", "bug", "script", "api", "class ", "unit test"}},
	{TypeLegal, []string{"contract", "clause", "liability", "legal", "compliance", "terms of service", "agreement", "regulation"}},
	{TypeSummarize, []string{"summarize", "summary", "tl;dr", "key points", "condense", "shorten"}},
	{TypeReasoning, []string{"why", "explain", "prove", "reason", "step by step", "logic", "deduce", "analyze"}},
	{TypeFAQ, []string{"what is", "what are", "who is", "when was", "where is", "how many", "define"}},
	{TypeCreative, []string{"write a story", "poem", "creative", "imagine", "fiction", "brainstorm"}},
}

// Detector classifies prompts. Confidence grows with the number of distinct
// matched patterns and is capped at 1.0; below the floor the result is forced
// to general with a low-confidence signal.
type Detector struct {
	confidenceFloor float64
}

func NewDetector(confidenceFloor float64) *Detector {
	return &Detector{confidenceFloor: confidenceFloor}
}

// Detect returns the task type, confidence, and a short intent string for the
// prompt.
func (d *Detector) Detect(prompt string) Result {
	lower := strings.ToLower(prompt)

	best := ""
	bestMatches := 0
	for _, r := range rules {
		matches := 0
		for _, p := range r.patterns {
			if strings.Contains(lower, p) {
				matches++
			}
		}
		if matches > bestMatches {
			best = r.taskType
			bestMatches = matches
		}
	}

	if bestMatches == 0 {
		return Result{
			TaskType:      TypeGeneral,
			Confidence:    0,
			Intent:        intentOf(lower),
			LowConfidence: true,
		}
	}

	// One match is weak evidence; each additional distinct pattern adds 0.25.
	confidence := 0.3 + 0.25*float64(bestMatches-1)
	if confidence > 1.0 {
		confidence = 1.0
	}

	res := Result{
		TaskType:   best,
		Confidence: confidence,
		Intent:     intentOf(lower),
	}
	if confidence < d.confidenceFloor {
		res.TaskType = TypeGeneral
		res.LowConfidence = true
	}
	return res
}

// intentOf reduces a prompt to a coarse intent label used in Tier 3 cache keys.
func intentOf(lower string) string {
	switch {
	case strings.Contains(lower, "compare"):
		return "compare"
	case strings.Contains(lower, "summarize"), strings.Contains(lower, "summary"):
		return "summarize"
	case strings.Contains(lower, "explain"), strings.Contains(lower, "why"):
		return "explain"
	case strings.Contains(lower, "list"), strings.Contains(lower, "enumerate"):
		return "list"
	default:
		return "answer"
	}
}
