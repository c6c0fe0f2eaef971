package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/af-corp/semroute/internal/similarity"
)

// Memory is a brute-force in-process index. Exact by construction, so it
// doubles as the correctness reference for remote implementations.
type Memory struct {
	mu        sync.RWMutex
	items     map[string]Entry
	dimension int
	now       func() time.Time
}

// NewMemory creates an index enforcing the given dimension on every vector.
func NewMemory(dimension int) *Memory {
	return &Memory{
		items:     make(map[string]Entry),
		dimension: dimension,
		now:       time.Now,
	}
}

func (m *Memory) Upsert(ctx context.Context, entries []Entry) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.ID == "" {
			return 0, fmt.Errorf("entry id is required")
		}
		if m.dimension > 0 && len(e.Embedding) != m.dimension {
			return 0, fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(e.Embedding), m.dimension)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		e.Embedding = append([]float32(nil), e.Embedding...)
		m.items[e.ID] = e
	}
	return len(entries), nil
}

func (m *Memory) Query(ctx context.Context, embedding []float32, topK int, filter func(Metadata) bool) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.dimension > 0 && len(embedding) != m.dimension {
		return nil, fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(embedding), m.dimension)
	}
	if topK <= 0 {
		return nil, nil
	}

	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]SearchResult, 0, len(m.items))
	for id, e := range m.items {
		if !e.Metadata.ExpiresAt.IsZero() && !now.Before(e.Metadata.ExpiresAt) {
			continue
		}
		if filter != nil && !filter(e.Metadata) {
			continue
		}
		// Stored embeddings are unit-norm, so the inner product is cosine.
		score, err := similarity.Dot(embedding, e.Embedding)
		if err != nil {
			return nil, err
		}
		if score < 0 {
			score = 0
		}
		results = append(results, SearchResult{ID: id, Score: score, Metadata: e.Metadata})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (m *Memory) Delete(ctx context.Context, ids []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if _, ok := m.items[id]; ok {
			delete(m.items, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}
