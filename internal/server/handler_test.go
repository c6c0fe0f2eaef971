package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/af-corp/semroute/internal/cache"
	"github.com/af-corp/semroute/internal/catalog"
	"github.com/af-corp/semroute/internal/config"
	"github.com/af-corp/semroute/internal/economics"
	"github.com/af-corp/semroute/internal/optimizer"
	"github.com/af-corp/semroute/internal/provider"
	"github.com/af-corp/semroute/internal/retry"
	"github.com/af-corp/semroute/internal/routing"
	"github.com/af-corp/semroute/internal/similarity"
	"github.com/af-corp/semroute/internal/task"
	"github.com/af-corp/semroute/internal/tokens"
	"github.com/af-corp/semroute/internal/types"
	"github.com/af-corp/semroute/internal/vectorindex"
)

type staticEmbedder struct{}

func (staticEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = similarity.Normalize([]float32{1, 0, 0})
	}
	return out, nil
}

func (staticEmbedder) Dimension() int { return 3 }

func testServer(t *testing.T) (http.Handler, *cache.ExactCache) {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"model": "test-model",
			"choices": [{"message": {"content": "served"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 3}
		}`))
	}))
	t.Cleanup(upstream.Close)

	cat := catalog.New()
	cat.Add(catalog.ModelProfile{
		Name: "test-model", Provider: "stub",
		CostPerKTokensIn: 0.001, CostPerKTokensOut: 0.002,
		AvgLatencyMs: 300, QualityScore: 4.0, Available: true,
	})

	registry := provider.NewRegistry()
	registry.Register("stub", provider.NewOpenAIClient("stub", config.ProviderConfig{BaseURL: upstream.URL}, upstream.Client()))
	health := provider.NewHealthTracker(5, time.Minute)
	dispatcher := provider.NewDispatcher(registry, health, retry.Policy{MaxAttempts: 1})

	tuner := economics.NewThresholdTuner(map[string]map[string]float64{
		"default": {"high": 0.85, "medium": 0.90, "low": 0.95},
	})
	calc := economics.NewMismatchCalculator(1.0, map[string]float64{"default": 2.0})
	exact := cache.NewExactCache(cache.NewMemoryStore(), time.Hour)
	semantic := cache.NewSemanticCache(staticEmbedder{}, vectorindex.NewMemory(3), tuner, calc, 5, time.Hour)
	intermediate := cache.NewIntermediateCache(cache.NewMemoryStore(), time.Hour)

	opt := optimizer.New(optimizer.Deps{
		Detector:        task.NewDetector(0.3),
		Exact:           exact,
		Semantic:        semantic,
		Intermediate:    intermediate,
		Engine:          routing.NewEngine(cat),
		Dispatcher:      dispatcher,
		Catalog:         cat,
		Estimator:       tokens.NewEstimator(),
		MaxPromptLength: 4096,
	})

	h := NewHandler(opt, cat, exact, semantic, intermediate, health, nil)
	return h.Routes(), exact
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestOptimizeEndpoint(t *testing.T) {
	handler, _ := testServer(t)

	w := postJSON(t, handler, "/v1/optimize", map[string]any{
		"prompt": "What is the speed of light?",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	var resp types.OptimizeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Response != "served" {
		t.Errorf("expected served, got %q", resp.Response)
	}
	if resp.ModelUsed != "test-model" {
		t.Errorf("expected test-model, got %s", resp.ModelUsed)
	}
	if resp.RequestID == "" {
		t.Error("expected request_id in body")
	}
}

func TestOptimizeEndpoint_SecondRequestHitsCache(t *testing.T) {
	handler, _ := testServer(t)
	body := map[string]any{"prompt": "What is DNS?"}

	postJSON(t, handler, "/v1/optimize", body)
	w := postJSON(t, handler, "/v1/optimize", body)

	var resp types.OptimizeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.CacheHit || resp.CacheTier != 1 {
		t.Errorf("expected tier 1 hit, got hit=%v tier=%d", resp.CacheHit, resp.CacheTier)
	}
}

func TestOptimizeEndpoint_InvalidJSON(t *testing.T) {
	handler, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/optimize", bytes.NewReader([]byte("{nope")))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestOptimizeEndpoint_InvalidMode(t *testing.T) {
	handler, _ := testServer(t)
	w := postJSON(t, handler, "/v1/optimize", map[string]any{
		"prompt":       "hi",
		"routing_mode": "warp",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestOptimizeEndpoint_ExplicitWithoutOverride(t *testing.T) {
	handler, _ := testServer(t)
	w := postJSON(t, handler, "/v1/optimize", map[string]any{
		"prompt":       "hi",
		"routing_mode": "explicit",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestOptimizeEndpoint_ExplicitUnknownModel(t *testing.T) {
	handler, _ := testServer(t)
	w := postJSON(t, handler, "/v1/optimize", map[string]any{
		"prompt":         "hi there friend",
		"routing_mode":   "explicit",
		"model_override": "gpt-99",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestOptimizeEndpoint_EmptyPrompt(t *testing.T) {
	handler, _ := testServer(t)
	w := postJSON(t, handler, "/v1/optimize", map[string]any{"prompt": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	handler, _ := testServer(t)

	postJSON(t, handler, "/v1/optimize", map[string]any{"prompt": "What is TLS?"})
	postJSON(t, handler, "/v1/optimize", map[string]any{"prompt": "What is TLS?"})

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var stats statsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.Exact.Hits != 1 {
		t.Errorf("expected 1 exact hit, got %d", stats.Exact.Hits)
	}
	if stats.Exact.EntryCount != 1 {
		t.Errorf("expected 1 exact entry, got %d", stats.Exact.EntryCount)
	}
}

func TestModelsEndpoint(t *testing.T) {
	handler, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Models) != 1 || resp.Models[0].Name != "test-model" {
		t.Errorf("unexpected models list: %+v", resp.Models)
	}
}

func TestInvalidateEndpoint(t *testing.T) {
	handler, exact := testServer(t)
	prompt := "What is BGP?"

	postJSON(t, handler, "/v1/optimize", map[string]any{"prompt": prompt})
	if _, ok, _ := exact.Get(context.Background(), prompt); !ok {
		t.Fatal("expected tier1 populated")
	}

	w := postJSON(t, handler, "/v1/invalidate", map[string]any{"query": prompt})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if _, ok, _ := exact.Get(context.Background(), prompt); ok {
		t.Error("expected tier1 entry removed")
	}
}

func TestInvalidateEndpoint_MissingFields(t *testing.T) {
	handler, _ := testServer(t)
	w := postJSON(t, handler, "/v1/invalidate", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	handler, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %q", body["status"])
	}
}
