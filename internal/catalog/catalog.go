// Package catalog holds the set of routable model profiles. Profiles are
// immutable once loaded; request traffic never mutates them. Reload swaps the
// whole table atomically so readers never observe a partial update.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/af-corp/semroute/internal/config"
)

// ErrModelNotFound is returned when a model name is absent from the catalog.
var ErrModelNotFound = errors.New("model not found in catalog")

// ModelProfile is the pricing and quality metadata for one model.
type ModelProfile struct {
	Name              string
	Provider          string
	CostPerKTokensIn  float64
	CostPerKTokensOut float64
	AvgLatencyMs      int
	QualityScore      float64
	ContextWindow     int
	MaxOutputTokens   int
	Available         bool
}

// AvgCostPerKTokens is the blended per-1K-token price used for scoring.
func (p ModelProfile) AvgCostPerKTokens() float64 {
	return (p.CostPerKTokensIn + p.CostPerKTokensOut) / 2
}

// CostFor prices a call with the given token counts.
func (p ModelProfile) CostFor(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)/1000*p.CostPerKTokensIn + float64(tokensOut)/1000*p.CostPerKTokensOut
}

// Catalog is a read-mostly table of model profiles keyed by name.
type Catalog struct {
	mu     sync.RWMutex
	models map[string]ModelProfile
}

func New() *Catalog {
	return &Catalog{models: make(map[string]ModelProfile)}
}

// FromConfig builds a catalog from a validated catalog config.
func FromConfig(cfg *config.CatalogConfig) *Catalog {
	c := New()
	c.Reload(cfg)
	return c
}

// Reload atomically replaces the whole table with the entries from cfg.
func (c *Catalog) Reload(cfg *config.CatalogConfig) {
	models := make(map[string]ModelProfile, len(cfg.Models))
	for _, m := range cfg.Models {
		models[m.Name] = ModelProfile{
			Name:              m.Name,
			Provider:          m.Provider,
			CostPerKTokensIn:  m.CostPerKTokensIn,
			CostPerKTokensOut: m.CostPerKTokensOut,
			AvgLatencyMs:      m.AvgLatencyMs,
			QualityScore:      m.QualityScore,
			ContextWindow:     m.ContextWindow,
			MaxOutputTokens:   m.MaxOutputTokens,
			Available:         !m.Disabled,
		}
	}
	c.mu.Lock()
	c.models = models
	c.mu.Unlock()
}

func (c *Catalog) Add(p ModelProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[p.Name] = p
}

func (c *Catalog) Get(name string) (ModelProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.models[name]
	if !ok {
		return ModelProfile{}, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return p, nil
}

func (c *Catalog) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.models, name)
}

// All returns every profile sorted by name. Sorting keeps iteration order
// stable across restarts so routing tie-breaks are reproducible.
func (c *Catalog) All() []ModelProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ModelProfile, 0, len(c.models))
	for _, p := range c.models {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Filter returns available profiles meeting both thresholds, sorted by name.
func (c *Catalog) Filter(minQuality float64, maxLatencyMs int) []ModelProfile {
	all := c.All()
	out := make([]ModelProfile, 0, len(all))
	for _, p := range all {
		if !p.Available {
			continue
		}
		if p.QualityScore < minQuality {
			continue
		}
		if maxLatencyMs > 0 && p.AvgLatencyMs > maxLatencyMs {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Len returns the number of profiles in the catalog.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.models)
}
