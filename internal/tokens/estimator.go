// Package tokens estimates token counts for cost projection before a request
// reaches a provider. Estimates feed the recompute-cost side of the cache
// economics, so being a few tokens off is fine; being unavailable is not.
package tokens

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// cl100k_base covers the GPT-4 family and is close enough for other vendors'
// tokenizers at estimation granularity.
const encodingName = "cl100k_base"

// Estimator counts tokens with tiktoken, falling back to a bytes/4 heuristic
// when the encoding cannot be loaded.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

func NewEstimator() *Estimator {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		slog.Warn("tiktoken encoding unavailable, using heuristic estimates", "encoding", encodingName, "error", err)
		return &Estimator{}
	}
	return &Estimator{enc: enc}
}

// Count returns the estimated token count for text, always at least 1 for
// non-empty input.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateCompletion projects output tokens from input tokens. The factor
// comes from routing config; observed output/input ratios hover around 1 for
// chat workloads.
func (e *Estimator) EstimateCompletion(inputTokens int, factor float64) int {
	if factor <= 0 {
		factor = 1.0
	}
	out := int(float64(inputTokens) * factor)
	if out < 1 {
		out = 1
	}
	return out
}
