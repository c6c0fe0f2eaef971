package provider

import (
	"sync"
	"time"
)

// HealthTracker holds one breaker per provider, created lazily.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	threshold int
	cooldown  time.Duration
}

func NewHealthTracker(threshold int, cooldown time.Duration) *HealthTracker {
	return &HealthTracker{
		breakers:  make(map[string]*Breaker),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

func (ht *HealthTracker) Breaker(providerName string) *Breaker {
	ht.mu.RLock()
	b, ok := ht.breakers[providerName]
	ht.mu.RUnlock()
	if ok {
		return b
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	if b, ok := ht.breakers[providerName]; ok {
		return b
	}
	b = NewBreaker(ht.threshold, ht.cooldown)
	ht.breakers[providerName] = b
	return b
}

func (ht *HealthTracker) IsAvailable(providerName string) bool {
	return ht.Breaker(providerName).Allow()
}

func (ht *HealthTracker) RecordSuccess(providerName string) {
	ht.Breaker(providerName).RecordSuccess()
}

func (ht *HealthTracker) RecordFailure(providerName string) {
	ht.Breaker(providerName).RecordFailure()
}

// States snapshots every breaker's state for the stats endpoint.
func (ht *HealthTracker) States() map[string]string {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	out := make(map[string]string, len(ht.breakers))
	for name, b := range ht.breakers {
		out[name] = b.State().String()
	}
	return out
}
