package catalog

import (
	"errors"
	"testing"

	"github.com/af-corp/semroute/internal/config"
)

func testCatalog() *Catalog {
	c := New()
	c.Add(ModelProfile{Name: "gpt-4o", Provider: "openai", CostPerKTokensIn: 0.0025, CostPerKTokensOut: 0.01, AvgLatencyMs: 800, QualityScore: 4.6, Available: true})
	c.Add(ModelProfile{Name: "gpt-4o-mini", Provider: "openai", CostPerKTokensIn: 0.00015, CostPerKTokensOut: 0.0006, AvgLatencyMs: 350, QualityScore: 3.8, Available: true})
	c.Add(ModelProfile{Name: "claude-sonnet", Provider: "anthropic", CostPerKTokensIn: 0.003, CostPerKTokensOut: 0.015, AvgLatencyMs: 900, QualityScore: 4.7, Available: true})
	return c
}

func TestCatalog_GetUnknownModel(t *testing.T) {
	c := testCatalog()
	_, err := c.Get("no-such-model")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
}

func TestCatalog_GetReturnsProfile(t *testing.T) {
	c := testCatalog()
	p, err := c.Get("gpt-4o")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Provider != "openai" {
		t.Errorf("expected provider=openai, got %s", p.Provider)
	}
}

func TestCatalog_FilterAppliesBothThresholds(t *testing.T) {
	c := testCatalog()
	got := c.Filter(4.0, 850)
	if len(got) != 1 {
		t.Fatalf("expected 1 model, got %d", len(got))
	}
	if got[0].Name != "gpt-4o" {
		t.Errorf("expected gpt-4o, got %s", got[0].Name)
	}
}

func TestCatalog_FilterSkipsUnavailable(t *testing.T) {
	c := testCatalog()
	c.Add(ModelProfile{Name: "parked", Provider: "openai", AvgLatencyMs: 100, QualityScore: 5.0, Available: false})
	for _, p := range c.Filter(0, 0) {
		if p.Name == "parked" {
			t.Error("unavailable model returned by Filter")
		}
	}
}

func TestCatalog_AllSortedByName(t *testing.T) {
	c := testCatalog()
	all := c.All()
	for i := 1; i < len(all); i++ {
		if all[i-1].Name >= all[i].Name {
			t.Fatalf("All() not sorted: %s before %s", all[i-1].Name, all[i].Name)
		}
	}
}

func TestCatalog_ReloadSwapsWholeTable(t *testing.T) {
	c := testCatalog()
	c.Reload(&config.CatalogConfig{Models: []config.ModelEntry{
		{Name: "only-one", Provider: "openai", AvgLatencyMs: 200, QualityScore: 3.0},
	}})
	if c.Len() != 1 {
		t.Fatalf("expected 1 model after reload, got %d", c.Len())
	}
	if _, err := c.Get("gpt-4o"); err == nil {
		t.Error("expected old entries gone after reload")
	}
	p, err := c.Get("only-one")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Available {
		t.Error("expected reloaded model to be available by default")
	}
}

func TestModelProfile_CostFor(t *testing.T) {
	p := ModelProfile{CostPerKTokensIn: 0.001, CostPerKTokensOut: 0.002}
	got := p.CostFor(1000, 500)
	want := 0.001 + 0.001
	if got != want {
		t.Errorf("expected cost=%v, got %v", want, got)
	}
}
