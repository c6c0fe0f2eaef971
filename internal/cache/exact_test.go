package cache

import (
	"context"
	"testing"
	"time"
)

func TestExactCache_RoundTrip(t *testing.T) {
	c := NewExactCache(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	if err := c.Set(ctx, "What is Go?", "A programming language.", "gpt-4o-mini", 0.0012); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, ok, err := c.Get(ctx, "What is Go?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if entry.Response != "A programming language." {
		t.Errorf("wrong response: %q", entry.Response)
	}
	if entry.Model != "gpt-4o-mini" {
		t.Errorf("wrong model: %q", entry.Model)
	}
	if entry.CostUSD != 0.0012 {
		t.Errorf("wrong cost: %v", entry.CostUSD)
	}
	if entry.AccessCount != 1 {
		t.Errorf("expected access count 1, got %d", entry.AccessCount)
	}
}

func TestExactCache_AccessCountIncrementsPerGet(t *testing.T) {
	c := NewExactCache(NewMemoryStore(), time.Hour)
	ctx := context.Background()
	c.Set(ctx, "q", "r", "m", 0)

	for want := int64(1); want <= 3; want++ {
		entry, ok, err := c.Get(ctx, "q")
		if err != nil || !ok {
			t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
		}
		if entry.AccessCount != want {
			t.Errorf("expected access count %d, got %d", want, entry.AccessCount)
		}
	}
}

func TestExactCache_AccessCountPersistsUnderInjectedClock(t *testing.T) {
	c := NewExactCache(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	// The cache's clock runs ten hours behind the wall clock; entries it
	// writes look long-expired to time.Now but are fresh on its own clock.
	c.now = func() time.Time { return time.Now().Add(-10 * time.Hour) }
	c.Set(ctx, "q", "r", "m", 0)

	c.Get(ctx, "q")
	entry, ok, err := c.Get(ctx, "q")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if entry.AccessCount != 2 {
		t.Errorf("expected access count 2, got %d", entry.AccessCount)
	}
}

func TestExactCache_NormalizationIgnoresCaseAndWhitespace(t *testing.T) {
	c := NewExactCache(NewMemoryStore(), time.Hour)
	ctx := context.Background()
	c.Set(ctx, "What is   Go?", "resp", "m", 0)

	_, ok, err := c.Get(ctx, "  what is go?  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected normalized variants to share a key")
	}
}

func TestExactCache_ExpiredEntryEvictedAndMiss(t *testing.T) {
	c := NewExactCache(NewMemoryStore(), time.Hour)
	ctx := context.Background()
	c.Set(ctx, "q", "r", "m", 0)

	// Move the cache's clock past expiry; the store keeps its own clock so
	// the raw record is still there for the cache to evict.
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, ok, err := c.Get(ctx, "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected miss for expired entry")
	}
	stats := c.Stats(ctx)
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
}

func TestExactCache_StatsTrackHitsAndSavings(t *testing.T) {
	c := NewExactCache(NewMemoryStore(), time.Hour)
	ctx := context.Background()
	c.Set(ctx, "q", "r", "m", 0.5)

	c.Get(ctx, "q")
	c.Get(ctx, "q")
	c.Get(ctx, "unknown")

	stats := c.Stats(ctx)
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("expected 2 hits 1 miss, got %d/%d", stats.Hits, stats.Misses)
	}
	if stats.HitRate < 0.66 || stats.HitRate > 0.67 {
		t.Errorf("expected hit rate ~0.667, got %v", stats.HitRate)
	}
	if stats.TotalCostSaved != 1.0 {
		t.Errorf("expected 1.0 saved, got %v", stats.TotalCostSaved)
	}
	if stats.EntryCount != 1 {
		t.Errorf("expected 1 entry, got %d", stats.EntryCount)
	}
}

func TestExactCache_ClearRemovesAllEntries(t *testing.T) {
	c := NewExactCache(NewMemoryStore(), time.Hour)
	ctx := context.Background()
	c.Set(ctx, "q1", "r1", "m", 0)
	c.Set(ctx, "q2", "r2", "m", 0)

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "q1"); ok {
		t.Error("expected miss after clear")
	}
	if stats := c.Stats(ctx); stats.EntryCount != 0 {
		t.Errorf("expected 0 entries after clear, got %d", stats.EntryCount)
	}
}

func TestExactCache_Invalidate(t *testing.T) {
	c := NewExactCache(NewMemoryStore(), time.Hour)
	ctx := context.Background()
	c.Set(ctx, "q", "r", "m", 0)
	if err := c.Invalidate(ctx, "q"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, ok, _ := c.Get(ctx, "q")
	if ok {
		t.Error("expected miss after invalidation")
	}
}
