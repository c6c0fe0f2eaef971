// Package vectorindex defines the nearest-neighbor search capability the
// semantic cache consumes, plus an in-process brute-force implementation.
// Remote or approximate indexes plug in behind the same interface.
package vectorindex

import (
	"context"
	"errors"
	"time"
)

// ErrDimensionMismatch is returned when a vector's length does not match the
// index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Metadata is the payload stored alongside each embedding.
type Metadata struct {
	Query     string
	Response  string
	Model     string
	TaskType  string
	CostUSD   float64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Entry is one stored vector with its metadata.
type Entry struct {
	ID        string
	Embedding []float32
	Metadata  Metadata
}

// SearchResult is one ranked match. Score is cosine similarity, in [0,1] for
// unit-normalized embeddings (negative similarities are clamped to 0).
type SearchResult struct {
	ID       string
	Score    float64
	Metadata Metadata
}

// Index is nearest-neighbor search over stored vectors.
type Index interface {
	Upsert(ctx context.Context, entries []Entry) (int, error)
	Query(ctx context.Context, embedding []float32, topK int, filter func(Metadata) bool) ([]SearchResult, error)
	Delete(ctx context.Context, ids []string) (int, error)
	Count(ctx context.Context) (int, error)
}
