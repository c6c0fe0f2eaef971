package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// ExactEntry is one Tier 1 cache record.
type ExactEntry struct {
	Response    string    `json:"response"`
	Model       string    `json:"model"`
	CostUSD     float64   `json:"cost_usd"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	AccessCount int64     `json:"access_count"`
}

// ExactStats is the Tier 1 counter snapshot.
type ExactStats struct {
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	HitRate        float64 `json:"hit_rate"`
	EntryCount     int     `json:"entry_count"`
	TotalCostSaved float64 `json:"total_cost_saved_usd"`
}

// ExactCache is the Tier 1 exact-match cache. The key is a content hash of
// the normalized user query text alone.
type ExactCache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
	// cost saved in microdollars so the counter stays an integer
	savedMicro atomic.Int64
}

func NewExactCache(store Store, ttl time.Duration) *ExactCache {
	return &ExactCache{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// ExactKey returns the Tier 1 key for a query: sha256 of the normalized text.
func ExactKey(query string) string {
	sum := sha256.Sum256([]byte(normalizeQuery(query)))
	return hex.EncodeToString(sum[:])
}

// Get returns the entry for query if present and unexpired. Expired entries
// are evicted and reported as misses. Hits increment the entry's access count.
func (c *ExactCache) Get(ctx context.Context, query string) (*ExactEntry, bool, error) {
	key := ExactKey(query)
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("tier1 get: %w", err)
	}
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}

	var entry ExactEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt entry; drop it and report a miss.
		_ = c.store.Delete(ctx, key)
		c.misses.Add(1)
		return nil, false, nil
	}

	if !entry.ExpiresAt.IsZero() && !c.now().Before(entry.ExpiresAt) {
		_ = c.store.Delete(ctx, key)
		c.misses.Add(1)
		return nil, false, nil
	}

	entry.AccessCount++
	if updated, err := json.Marshal(entry); err == nil {
		ttl := entry.ExpiresAt.Sub(c.now())
		if ttl > 0 {
			_ = c.store.Set(ctx, key, updated, ttl)
		}
	}

	c.hits.Add(1)
	c.savedMicro.Add(int64(entry.CostUSD * 1e6))
	return &entry, true, nil
}

// Set inserts the response for query with the configured TTL.
func (c *ExactCache) Set(ctx context.Context, query, response, model string, costUSD float64) error {
	now := c.now()
	entry := ExactEntry{
		Response:  response,
		Model:     model,
		CostUSD:   costUSD,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("tier1 marshal: %w", err)
	}
	if err := c.store.Set(ctx, ExactKey(query), data, c.ttl); err != nil {
		return fmt.Errorf("tier1 set: %w", err)
	}
	return nil
}

// Invalidate removes the entry for query.
func (c *ExactCache) Invalidate(ctx context.Context, query string) error {
	return c.store.Delete(ctx, ExactKey(query))
}

// Clear removes every entry. Hit/miss counters are kept; they describe
// traffic, not contents.
func (c *ExactCache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Stats returns the current counter snapshot.
func (c *ExactCache) Stats(ctx context.Context) ExactStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	stats := ExactStats{
		Hits:           hits,
		Misses:         misses,
		TotalCostSaved: float64(c.savedMicro.Load()) / 1e6,
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	if n, err := c.store.Count(ctx); err == nil {
		stats.EntryCount = n
	}
	return stats
}
