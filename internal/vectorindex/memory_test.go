package vectorindex

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/af-corp/semroute/internal/similarity"
)

func unit(vals ...float32) []float32 {
	return similarity.Normalize(vals)
}

func TestMemory_UpsertAndCount(t *testing.T) {
	idx := NewMemory(3)
	n, err := idx.Upsert(context.Background(), []Entry{
		{ID: "a", Embedding: unit(1, 0, 0)},
		{ID: "b", Embedding: unit(0, 1, 0)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 upserted, got %d", n)
	}
	count, err := idx.Count(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count 2, got %d", count)
	}
}

func TestMemory_UpsertSameIDOverwrites(t *testing.T) {
	idx := NewMemory(2)
	idx.Upsert(context.Background(), []Entry{{ID: "a", Embedding: unit(1, 0), Metadata: Metadata{Response: "old"}}})
	idx.Upsert(context.Background(), []Entry{{ID: "a", Embedding: unit(1, 0), Metadata: Metadata{Response: "new"}}})
	count, _ := idx.Count(context.Background())
	if count != 1 {
		t.Fatalf("expected 1 entry, got %d", count)
	}
	res, err := idx.Query(context.Background(), unit(1, 0), 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res[0].Metadata.Response != "new" {
		t.Errorf("expected last writer wins, got %q", res[0].Metadata.Response)
	}
}

func TestMemory_QueryRankedByScoreDesc(t *testing.T) {
	idx := NewMemory(2)
	idx.Upsert(context.Background(), []Entry{
		{ID: "far", Embedding: unit(0, 1)},
		{ID: "near", Embedding: unit(1, 0.1)},
		{ID: "exact", Embedding: unit(1, 0)},
	})
	res, err := idx.Query(context.Background(), unit(1, 0), 3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res))
	}
	if res[0].ID != "exact" || res[1].ID != "near" || res[2].ID != "far" {
		t.Errorf("unexpected ranking: %s, %s, %s", res[0].ID, res[1].ID, res[2].ID)
	}
	for i := 1; i < len(res); i++ {
		if res[i].Score > res[i-1].Score {
			t.Error("results not sorted by score descending")
		}
	}
}

func TestMemory_QueryScoresClampedToUnitInterval(t *testing.T) {
	idx := NewMemory(2)
	idx.Upsert(context.Background(), []Entry{{ID: "opposite", Embedding: unit(-1, 0)}})
	res, err := idx.Query(context.Background(), unit(1, 0), 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res[0].Score != 0 {
		t.Errorf("expected negative similarity clamped to 0, got %v", res[0].Score)
	}
}

func TestMemory_QueryDimensionMismatch(t *testing.T) {
	idx := NewMemory(3)
	_, err := idx.Query(context.Background(), unit(1, 0), 1, nil)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestMemory_UpsertDimensionMismatch(t *testing.T) {
	idx := NewMemory(3)
	_, err := idx.Upsert(context.Background(), []Entry{{ID: "a", Embedding: unit(1, 0)}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestMemory_QuerySkipsExpired(t *testing.T) {
	idx := NewMemory(2)
	idx.Upsert(context.Background(), []Entry{{
		ID:        "stale",
		Embedding: unit(1, 0),
		Metadata:  Metadata{ExpiresAt: time.Now().Add(-time.Minute)},
	}})
	res, err := idx.Query(context.Background(), unit(1, 0), 5, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res) != 0 {
		t.Errorf("expected expired entry skipped, got %d results", len(res))
	}
}

func TestMemory_QueryAppliesMetadataFilter(t *testing.T) {
	idx := NewMemory(2)
	idx.Upsert(context.Background(), []Entry{
		{ID: "legal", Embedding: unit(1, 0), Metadata: Metadata{TaskType: "legal"}},
		{ID: "faq", Embedding: unit(1, 0.01), Metadata: Metadata{TaskType: "faq"}},
	})
	res, err := idx.Query(context.Background(), unit(1, 0), 5, func(md Metadata) bool {
		return md.TaskType == "faq"
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res) != 1 || res[0].ID != "faq" {
		t.Errorf("expected only faq entry, got %+v", res)
	}
}

func TestMemory_Delete(t *testing.T) {
	idx := NewMemory(2)
	idx.Upsert(context.Background(), []Entry{
		{ID: "a", Embedding: unit(1, 0)},
		{ID: "b", Embedding: unit(0, 1)},
	})
	n, err := idx.Delete(context.Background(), []string{"a", "missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}
	count, _ := idx.Count(context.Background())
	if count != 1 {
		t.Errorf("expected 1 remaining, got %d", count)
	}
}

func TestMemory_CanceledContext(t *testing.T) {
	idx := NewMemory(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := idx.Query(ctx, unit(1, 0), 1, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
