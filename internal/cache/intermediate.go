package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/af-corp/semroute/internal/workflow"
)

// StepExecutor computes the result of one workflow step that missed the cache.
type StepExecutor func(ctx context.Context, step *workflow.Step) (string, error)

// intermediateEntry is one Tier 3 record.
type intermediateEntry struct {
	Result    string    `json:"result"`
	CreatedAt time.Time `json:"created_at"`
}

// IntermediateStats is the Tier 3 counter snapshot.
type IntermediateStats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
	EntryCount int     `json:"entry_count"`
}

// IntermediateCache stores reusable sub-results of decomposed workflows,
// keyed by the step's composite cache key. Partial hits are the point: some
// steps come from cache while the rest are executed fresh.
type IntermediateCache struct {
	store Store
	ttl   time.Duration

	hits   atomic.Int64
	misses atomic.Int64

	// mu serializes read-modify-write of the per-document key index, which
	// lives in the store itself so InvalidateByDocument survives restarts.
	mu sync.Mutex
}

func NewIntermediateCache(store Store, ttl time.Duration) *IntermediateCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IntermediateCache{
		store: store,
		ttl:   ttl,
	}
}

// docIndexKey is where the list of step keys for a document is stored. Step
// keys always carry two colons (documentID:stepType:intent), so the "doc:"
// namespace cannot collide with them.
func docIndexKey(documentID string) string {
	return "doc:" + documentID
}

// Get returns the cached result for key, if any.
func (c *IntermediateCache) Get(ctx context.Context, key string) (string, bool, error) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("tier3 get: %w", err)
	}
	if !ok {
		c.misses.Add(1)
		return "", false, nil
	}
	var entry intermediateEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		_ = c.store.Delete(ctx, key)
		c.misses.Add(1)
		return "", false, nil
	}
	c.hits.Add(1)
	return entry.Result, true, nil
}

// Set stores a step result under key with the configured TTL.
func (c *IntermediateCache) Set(ctx context.Context, key, documentID, result string) error {
	entry := intermediateEntry{Result: result, CreatedAt: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("tier3 marshal: %w", err)
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		return fmt.Errorf("tier3 set: %w", err)
	}
	if documentID != "" {
		if err := c.indexDocumentKey(ctx, documentID, key); err != nil {
			return fmt.Errorf("tier3 document index: %w", err)
		}
	}
	return nil
}

// indexDocumentKey appends key to the document's stored key list. The index
// TTL is refreshed on every write so it outlives the newest entry under it.
func (c *IntermediateCache) indexDocumentKey(ctx context.Context, documentID, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	if data, ok, err := c.store.Get(ctx, docIndexKey(documentID)); err != nil {
		return err
	} else if ok {
		if err := json.Unmarshal(data, &keys); err != nil {
			keys = nil
		}
	}
	for _, k := range keys {
		if k == key {
			return nil
		}
	}
	keys = append(keys, key)
	data, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, docIndexKey(documentID), data, c.ttl)
}

// Invalidate removes one key.
func (c *IntermediateCache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// InvalidateByDocument removes every cached step result for a document,
// e.g. after the underlying document changes. The key index lives in the
// store, so entries written by a previous process are covered too.
func (c *IntermediateCache) InvalidateByDocument(ctx context.Context, documentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok, err := c.store.Get(ctx, docIndexKey(documentID))
	if err != nil {
		return fmt.Errorf("tier3 document index: %w", err)
	}
	if !ok {
		return nil
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err == nil {
		for _, key := range keys {
			if err := c.store.Delete(ctx, key); err != nil {
				return err
			}
		}
	}
	return c.store.Delete(ctx, docIndexKey(documentID))
}

// ExecuteWorkflow walks the steps in order. Cached steps are filled from the
// store; the rest are computed by executor and written back. All steps return
// with results filled. A canceled context aborts without caching partial
// executor output.
func (c *IntermediateCache) ExecuteWorkflow(ctx context.Context, steps []*workflow.Step, executor StepExecutor) error {
	return c.ExecuteWorkflowGated(ctx, steps, executor, true, true)
}

// ExecuteWorkflowGated is ExecuteWorkflow with cache reads or writes
// selectively disabled, for callers whose admission policy rules on the two
// operations independently.
func (c *IntermediateCache) ExecuteWorkflowGated(ctx context.Context, steps []*workflow.Step, executor StepExecutor, allowRead, allowWrite bool) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		key := step.CacheKey()
		if allowRead {
			if result, ok, err := c.Get(ctx, key); err == nil && ok {
				step.Result = result
				step.FromCache = true
				continue
			} else if err != nil {
				// Store trouble degrades the step to a miss.
				slog.Warn("tier3 lookup failed, executing step", "key", key, "error", err)
			}
		}

		result, err := executor(ctx, step)
		if err != nil {
			return fmt.Errorf("execute step %s: %w", step.StepID, err)
		}
		step.Result = result
		step.FromCache = false

		if allowWrite {
			if err := c.Set(ctx, key, step.DocumentID, result); err != nil {
				slog.Warn("tier3 write-back failed", "key", key, "error", err)
			}
		}
	}
	return nil
}

// Stats returns the current counter snapshot.
func (c *IntermediateCache) Stats(ctx context.Context) IntermediateStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	stats := IntermediateStats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	if n, err := c.store.Count(ctx); err == nil {
		stats.EntryCount = n
	}
	return stats
}
