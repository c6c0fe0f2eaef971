// Package workflow decomposes prompts into cacheable steps for Tier 3.
// Decomposition is pure pattern matching; the step rules are fixed so two
// requests needing the same intermediate computation converge on the same
// cache key.
package workflow

import (
	"fmt"
	"regexp"
	"strings"
)

// Step types.
const (
	StepAnswer    = "answer"
	StepSummarize = "summarize"
	StepCompare   = "compare"
)

// Step is one unit of a decomposed request. The step object itself is
// per-request scratch; only its result persists, under CacheKey.
type Step struct {
	StepID     string
	StepType   string
	Intent     string
	DocumentID string
	InputText  string
	Result     string
	FromCache  bool
}

// CacheKey is the deterministic composite key for the step's result.
func (s *Step) CacheKey() string {
	return fmt.Sprintf("%s:%s:%s", s.DocumentID, s.StepType, s.Intent)
}

var comparePattern = regexp.MustCompile(`(?i)\bcompare\b|\bversus\b|\bvs\.?\b|difference between`)

// Decompose splits a prompt into workflow steps using fixed rules:
// comparison → summarize A, summarize B, compare; multi-part → one step per
// sub-question; document question → summarize then answer; otherwise a single
// answer step.
func Decompose(prompt, documentID, intent string) []*Step {
	if intent == "" {
		intent = "answer"
	}

	if comparePattern.MatchString(prompt) {
		if a, b, ok := compareSubjects(prompt); ok {
			return []*Step{
				{StepID: "1", StepType: StepSummarize, Intent: slugify(a), DocumentID: documentID, InputText: a},
				{StepID: "2", StepType: StepSummarize, Intent: slugify(b), DocumentID: documentID, InputText: b},
				{StepID: "3", StepType: StepCompare, Intent: slugify(a) + "-" + slugify(b), DocumentID: documentID, InputText: prompt},
			}
		}
	}

	if parts := splitSubQuestions(prompt); len(parts) > 1 {
		steps := make([]*Step, 0, len(parts))
		for i, p := range parts {
			steps = append(steps, &Step{
				StepID:     fmt.Sprintf("%d", i+1),
				StepType:   StepAnswer,
				Intent:     slugify(p),
				DocumentID: documentID,
				InputText:  p,
			})
		}
		return steps
	}

	if documentID != "" {
		return []*Step{
			{StepID: "1", StepType: StepSummarize, Intent: intent, DocumentID: documentID, InputText: prompt},
			{StepID: "2", StepType: StepAnswer, Intent: intent, DocumentID: documentID, InputText: prompt},
		}
	}

	return []*Step{
		{StepID: "1", StepType: StepAnswer, Intent: intent, InputText: prompt},
	}
}

// compareSubjects pulls the two compared subjects out of "compare A and B" /
// "A versus B" phrasings.
func compareSubjects(prompt string) (string, string, bool) {
	lower := strings.ToLower(prompt)

	if idx := strings.Index(lower, "compare "); idx >= 0 {
		rest := prompt[idx+len("compare "):]
		for _, sep := range []string{" and ", " with ", " to ", " vs ", " versus "} {
			if i := strings.Index(strings.ToLower(rest), sep); i > 0 {
				a := strings.Trim(rest[:i], " .,?!")
				b := strings.Trim(rest[i+len(sep):], " .,?!")
				if a != "" && b != "" {
					return a, b, true
				}
			}
		}
	}

	for _, sep := range []string{" versus ", " vs. ", " vs "} {
		if i := strings.Index(lower, sep); i > 0 {
			a := strings.Trim(prompt[:i], " .,?!")
			b := strings.Trim(prompt[i+len(sep):], " .,?!")
			if a != "" && b != "" {
				return a, b, true
			}
		}
	}
	return "", "", false
}

// splitSubQuestions splits a multi-part prompt on question marks. Only splits
// producing more than one non-empty part count as multi-part.
func splitSubQuestions(prompt string) []string {
	raw := strings.Split(prompt, "?")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		p = strings.TrimLeft(p, ".,;")
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p+"?")
		}
	}
	return parts
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// slugify reduces free text to a stable lowercase token for cache keys.
func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugPattern.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 48 {
		s = s[:48]
	}
	return s
}
