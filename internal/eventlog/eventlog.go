// Package eventlog persists one row per optimized request for offline cost
// analysis. The store is nil-safe: without a database pool every call is a
// no-op, so the request path never depends on Postgres being up.
package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is one completed request, hit or miss.
type Event struct {
	RequestID      string
	OrganizationID string
	UserID         string
	TaskType       string
	RoutingMode    string
	CacheHit       bool
	CacheTier      string
	Model          string
	TokensIn       int
	TokensOut      int
	CostUSD        float64
	CostSavedUSD   float64
	LatencyMs      int64
	RoutingReason  string
	CreatedAt      time.Time
}

// Store writes events to the request_events table.
type Store struct {
	db *pgxpool.Pool
}

// NewStore accepts a nil pool for deployments without Postgres.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Enabled() bool { return s != nil && s.db != nil }

// Record inserts one event synchronously.
func (s *Store) Record(ctx context.Context, ev *Event) error {
	if !s.Enabled() {
		return nil
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO request_events (
			request_id, organization_id, user_id, task_type, routing_mode,
			cache_hit, cache_tier, model, tokens_in, tokens_out,
			cost_usd, cost_saved_usd, latency_ms, routing_reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, ev.RequestID, ev.OrganizationID, ev.UserID, ev.TaskType, ev.RoutingMode,
		ev.CacheHit, ev.CacheTier, ev.Model, ev.TokensIn, ev.TokensOut,
		ev.CostUSD, ev.CostSavedUSD, ev.LatencyMs, ev.RoutingReason, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert request_event: %w", err)
	}
	return nil
}

// RecordAsync inserts off the request path. Failures are logged, not returned.
func (s *Store) RecordAsync(ev *Event) {
	if !s.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Record(ctx, ev); err != nil {
			slog.Error("event log write failed", "request_id", ev.RequestID, "error", err)
		}
	}()
}

// Summary aggregates spend and savings over a window.
type Summary struct {
	Requests      int64
	CacheHits     int64
	TotalCostUSD  float64
	TotalSavedUSD float64
}

// Summarize reports totals for events created after since.
func (s *Store) Summarize(ctx context.Context, since time.Time) (*Summary, error) {
	if !s.Enabled() {
		return &Summary{}, nil
	}
	var sum Summary
	err := s.db.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE cache_hit),
		       coalesce(sum(cost_usd), 0),
		       coalesce(sum(cost_saved_usd), 0)
		FROM request_events
		WHERE created_at >= $1
	`, since).Scan(&sum.Requests, &sum.CacheHits, &sum.TotalCostUSD, &sum.TotalSavedUSD)
	if err != nil {
		return nil, fmt.Errorf("summarize request_events: %w", err)
	}
	return &sum, nil
}
