package routing

import (
	"errors"
	"testing"

	"github.com/af-corp/semroute/internal/catalog"
	"github.com/af-corp/semroute/internal/task"
	"github.com/af-corp/semroute/internal/types"
)

func testCatalog() *catalog.Catalog {
	c := catalog.New()
	c.Add(catalog.ModelProfile{
		Name: "gpt-4o", Provider: "openai",
		CostPerKTokensIn: 0.0025, CostPerKTokensOut: 0.01,
		AvgLatencyMs: 800, QualityScore: 4.5, Available: true,
	})
	c.Add(catalog.ModelProfile{
		Name: "gpt-4o-mini", Provider: "openai",
		CostPerKTokensIn: 0.00015, CostPerKTokensOut: 0.0006,
		AvgLatencyMs: 350, QualityScore: 3.8, Available: true,
	})
	c.Add(catalog.ModelProfile{
		Name: "claude-sonnet", Provider: "anthropic",
		CostPerKTokensIn: 0.003, CostPerKTokensOut: 0.015,
		AvgLatencyMs: 450, QualityScore: 4.3, Available: true,
	})
	c.Add(catalog.ModelProfile{
		Name: "claude-haiku", Provider: "anthropic",
		CostPerKTokensIn: 0.0008, CostPerKTokensOut: 0.004,
		AvgLatencyMs: 250, QualityScore: 3.6, Available: true,
	})
	return c
}

func TestSelectModel_AutopilotPicksCheapestAdequate(t *testing.T) {
	e := NewEngine(testCatalog())

	// General task: quality>=3.5, latency<=500ms. gpt-4o-mini has the best
	// quality/cost ratio among qualifying models.
	d, err := e.SelectModel(&types.OptimizeRequest{RoutingMode: types.ModeAutopilot}, task.TypeGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ModelName != "gpt-4o-mini" {
		t.Errorf("expected gpt-4o-mini, got %s", d.ModelName)
	}
	if d.FallbackUsed {
		t.Error("expected no fallback")
	}
	if d.CandidatesEvaluated == 0 {
		t.Error("expected candidates evaluated")
	}
}

func TestSelectModel_AutopilotCodingTightensFloor(t *testing.T) {
	e := NewEngine(testCatalog())

	// Coding floor: quality>=4.0, latency<=500ms. Only claude-sonnet fits.
	d, err := e.SelectModel(&types.OptimizeRequest{RoutingMode: types.ModeAutopilot}, task.TypeCoding)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ModelName != "claude-sonnet" {
		t.Errorf("expected claude-sonnet, got %s", d.ModelName)
	}
}

func TestSelectModel_GuidedPreferences(t *testing.T) {
	e := NewEngine(testCatalog())

	// low quality + instant latency: only claude-haiku is under 150ms... none
	// are, so fallback picks highest quality overall.
	d, err := e.SelectModel(&types.OptimizeRequest{
		RoutingMode:       types.ModeGuided,
		QualityPreference: "low",
		LatencyPreference: "instant",
	}, task.TypeGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.FallbackUsed {
		t.Error("expected fallback when no model meets 150ms")
	}
	if d.ModelName != "gpt-4o" {
		t.Errorf("expected highest-quality fallback gpt-4o, got %s", d.ModelName)
	}
}

func TestSelectModel_GuidedFastPicksWithinBudget(t *testing.T) {
	e := NewEngine(testCatalog())

	// fast = 300ms: only claude-haiku (250ms, quality 3.6) passes with low
	// quality preference.
	d, err := e.SelectModel(&types.OptimizeRequest{
		RoutingMode:       types.ModeGuided,
		QualityPreference: "low",
		LatencyPreference: "fast",
	}, task.TypeGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ModelName != "claude-haiku" {
		t.Errorf("expected claude-haiku, got %s", d.ModelName)
	}
}

func TestSelectModel_GuidedInvalidPreference(t *testing.T) {
	e := NewEngine(testCatalog())
	_, err := e.SelectModel(&types.OptimizeRequest{
		RoutingMode:       types.ModeGuided,
		QualityPreference: "ultra",
	}, task.TypeGeneral)
	if err == nil {
		t.Fatal("expected error for unknown preference word")
	}
}

func TestSelectModel_ExplicitHonorsOverride(t *testing.T) {
	e := NewEngine(testCatalog())

	d, err := e.SelectModel(&types.OptimizeRequest{
		RoutingMode:   types.ModeExplicit,
		ModelOverride: "gpt-4o",
	}, task.TypeGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ModelName != "gpt-4o" {
		t.Errorf("expected gpt-4o, got %s", d.ModelName)
	}
	if len(d.ReferenceCosts) != 3 {
		t.Errorf("expected 3 reference costs, got %d", len(d.ReferenceCosts))
	}
	if _, ok := d.ReferenceCosts["gpt-4o"]; ok {
		t.Error("reference costs must exclude the chosen model")
	}
}

func TestSelectModel_ExplicitUnknownModel(t *testing.T) {
	e := NewEngine(testCatalog())
	_, err := e.SelectModel(&types.OptimizeRequest{
		RoutingMode:   types.ModeExplicit,
		ModelOverride: "gpt-9",
	}, task.TypeGeneral)
	if !errors.Is(err, catalog.ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
}

func TestSelectModel_EmptyModeDefaultsToAutopilot(t *testing.T) {
	e := NewEngine(testCatalog())
	d, err := e.SelectModel(&types.OptimizeRequest{}, task.TypeGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ModelName == "" {
		t.Error("expected a model selection")
	}
}

func TestSelectModel_CostBudgetFiltersCandidates(t *testing.T) {
	e := NewEngine(testCatalog())

	// Budget below every model's blended price except gpt-4o-mini (0.000375).
	d, err := e.SelectModel(&types.OptimizeRequest{
		RoutingMode: types.ModeAutopilot,
		CostBudget:  0.001,
	}, task.TypeGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ModelName != "gpt-4o-mini" {
		t.Errorf("expected gpt-4o-mini under budget, got %s", d.ModelName)
	}
}

func TestSelectModel_DirectOverridesTighten(t *testing.T) {
	e := NewEngine(testCatalog())

	// Raise quality floor past gpt-4o-mini's 3.8.
	d, err := e.SelectModel(&types.OptimizeRequest{
		RoutingMode:      types.ModeAutopilot,
		QualityThreshold: 4.2,
		LatencyBudgetMs:  1000,
	}, task.TypeGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ModelName != "claude-sonnet" && d.ModelName != "gpt-4o" {
		t.Errorf("expected a >=4.2 quality model, got %s", d.ModelName)
	}
}

func TestSelectModel_AlternativesRankedForFallback(t *testing.T) {
	e := NewEngine(testCatalog())
	d, err := e.SelectModel(&types.OptimizeRequest{RoutingMode: types.ModeAutopilot}, task.TypeGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, alt := range d.Alternatives {
		if alt.Name == d.ModelName {
			t.Error("alternatives must not repeat the selected model")
		}
	}
	for i := 1; i < len(d.Alternatives); i++ {
		if score(d.Alternatives[i]) > score(d.Alternatives[i-1]) {
			t.Error("alternatives not ranked by descending score")
		}
	}
}

func TestSelectModel_EmptyCatalog(t *testing.T) {
	e := NewEngine(catalog.New())
	_, err := e.SelectModel(&types.OptimizeRequest{RoutingMode: types.ModeAutopilot}, task.TypeGeneral)
	if !errors.Is(err, ErrNoModels) {
		t.Errorf("expected ErrNoModels, got %v", err)
	}
}
