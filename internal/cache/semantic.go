package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/af-corp/semroute/internal/economics"
	"github.com/af-corp/semroute/internal/embedding"
	"github.com/af-corp/semroute/internal/vectorindex"
)

// SemanticResult is the outcome of a Tier 2 lookup. On a miss, Reason says
// why the best candidates were rejected.
type SemanticResult struct {
	Hit          bool
	Response     string
	Model        string
	CostUSD      float64
	Similarity   float64
	MismatchCost float64
	Reason       string
}

// SemanticStats is the Tier 2 counter snapshot.
type SemanticStats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
	EntryCount int     `json:"entry_count"`
}

// SemanticCache is the Tier 2 orchestrator: embed the query, fetch nearest
// neighbors, and accept the first candidate (in similarity rank order) that
// clears both the threshold gate and the economic gate. Dependency failures
// degrade to a miss; Tier 2 never fails a request.
type SemanticCache struct {
	provider   embedding.Provider
	index      vectorindex.Index
	thresholds *economics.ThresholdTuner
	calculator *economics.MismatchCalculator
	topK       int
	ttl        time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

func NewSemanticCache(provider embedding.Provider, index vectorindex.Index, thresholds *economics.ThresholdTuner, calculator *economics.MismatchCalculator, topK int, ttl time.Duration) *SemanticCache {
	if topK <= 0 {
		topK = 5
	}
	return &SemanticCache{
		provider:   provider,
		index:      index,
		thresholds: thresholds,
		calculator: calculator,
		topK:       topK,
		ttl:        ttl,
	}
}

// Get looks up a semantically similar cached answer for query.
func (c *SemanticCache) Get(ctx context.Context, query, taskType, costSensitivity string, recomputeCost float64) (SemanticResult, error) {
	vectors, err := c.provider.Embed(ctx, []string{query})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return SemanticResult{}, err
		}
		slog.Warn("tier2 embedding failed, degrading to miss", "error", err)
		c.misses.Add(1)
		return SemanticResult{Reason: "embedding unavailable"}, nil
	}
	if len(vectors) != 1 {
		c.misses.Add(1)
		return SemanticResult{Reason: "embedding returned no vector"}, nil
	}

	candidates, err := c.index.Query(ctx, vectors[0], c.topK, nil)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return SemanticResult{}, err
		}
		slog.Warn("tier2 vector query failed, degrading to miss", "error", err)
		c.misses.Add(1)
		return SemanticResult{Reason: "vector index unavailable"}, nil
	}
	if len(candidates) == 0 {
		c.misses.Add(1)
		return SemanticResult{Reason: "no candidates in vector index"}, nil
	}

	threshold := c.thresholds.Threshold(taskType, costSensitivity)

	// Candidates arrive ranked by similarity descending, so the first one to
	// pass both gates is the best acceptable match.
	var rejected string
	for _, cand := range candidates {
		if cand.Score < threshold {
			// Ranked descending: everything after this is lower still.
			if rejected == "" {
				rejected = fmt.Sprintf("best similarity %.4f below threshold %.4f", cand.Score, threshold)
			}
			break
		}
		decision, err := c.calculator.ShouldUseCache(cand.Score, taskType, recomputeCost)
		if err != nil {
			return SemanticResult{}, fmt.Errorf("tier2 economic check: %w", err)
		}
		if decision.UseCache {
			c.hits.Add(1)
			return SemanticResult{
				Hit:          true,
				Response:     cand.Metadata.Response,
				Model:        cand.Metadata.Model,
				CostUSD:      cand.Metadata.CostUSD,
				Similarity:   cand.Score,
				MismatchCost: decision.MismatchCost,
				Reason:       decision.Reason,
			}, nil
		}
		rejected = decision.Reason
	}

	c.misses.Add(1)
	if rejected == "" {
		rejected = fmt.Sprintf("no candidate met threshold %.4f", threshold)
	}
	return SemanticResult{Reason: rejected}, nil
}

// Set embeds the query and upserts it with response metadata.
func (c *SemanticCache) Set(ctx context.Context, query, response, model, taskType string, costUSD float64) error {
	vectors, err := c.provider.Embed(ctx, []string{query})
	if err != nil {
		return fmt.Errorf("tier2 embed for set: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("tier2 embed for set: got %d vectors", len(vectors))
	}

	now := time.Now()
	entry := vectorindex.Entry{
		ID:        ExactKey(query),
		Embedding: vectors[0],
		Metadata: vectorindex.Metadata{
			Query:     query,
			Response:  response,
			Model:     model,
			TaskType:  taskType,
			CostUSD:   costUSD,
			CreatedAt: now,
			ExpiresAt: now.Add(c.ttl),
		},
	}
	if _, err := c.index.Upsert(ctx, []vectorindex.Entry{entry}); err != nil {
		return fmt.Errorf("tier2 upsert: %w", err)
	}
	return nil
}

// Invalidate removes the stored vector for query.
func (c *SemanticCache) Invalidate(ctx context.Context, query string) error {
	_, err := c.index.Delete(ctx, []string{ExactKey(query)})
	return err
}

// Stats returns the current counter snapshot.
func (c *SemanticCache) Stats(ctx context.Context) SemanticStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	stats := SemanticStats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	if n, err := c.index.Count(ctx); err == nil {
		stats.EntryCount = n
	}
	return stats
}
