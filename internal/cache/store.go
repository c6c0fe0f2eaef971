// Package cache implements the three cache tiers: exact-match (Tier 1),
// semantic (Tier 2), and intermediate workflow results (Tier 3). Tier 1 and
// Tier 3 sit on a small injected key-value Store so the production binding
// can be Redis without changing tier logic.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Store is the key-value capability Tier 1 and Tier 3 consume.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// MemoryStore is the in-process Store used for tests and single-node
// deployments. Expired entries are dropped lazily on access.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !item.expiresAt.IsZero() && !s.now().Before(item.expiresAt) {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	return item.value, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.items[key] = item
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, item := range s.items {
		if item.expiresAt.IsZero() || now.Before(item.expiresAt) {
			n++
		}
	}
	return n, nil
}

// Clear removes every entry.
func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.items = make(map[string]memoryItem)
	s.mu.Unlock()
	return nil
}

// normalizeQuery canonicalizes user query text for hashing: trimmed,
// lowercased, runs of whitespace collapsed. System/instruction prefixes are
// never part of the input here; hashing only the user query keeps static
// prefixes from diluting the hit rate.
func normalizeQuery(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	inSpace := false
	for _, r := range strings.TrimSpace(query) {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace {
			b.WriteByte(' ')
			inSpace = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
