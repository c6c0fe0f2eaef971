// Package server exposes the optimizer over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/af-corp/semroute/internal/cache"
	"github.com/af-corp/semroute/internal/catalog"
	"github.com/af-corp/semroute/internal/constraint"
	"github.com/af-corp/semroute/internal/eventlog"
	"github.com/af-corp/semroute/internal/httputil"
	"github.com/af-corp/semroute/internal/optimizer"
	"github.com/af-corp/semroute/internal/provider"
	"github.com/af-corp/semroute/internal/routing"
	"github.com/af-corp/semroute/internal/types"
)

var version = "dev"

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	optimizer    *optimizer.Optimizer
	catalog      *catalog.Catalog
	exact        *cache.ExactCache
	semantic     *cache.SemanticCache
	intermediate *cache.IntermediateCache
	health       *provider.HealthTracker
	events       *eventlog.Store
}

func NewHandler(opt *optimizer.Optimizer, cat *catalog.Catalog, exact *cache.ExactCache, semantic *cache.SemanticCache, intermediate *cache.IntermediateCache, health *provider.HealthTracker, events *eventlog.Store) *Handler {
	return &Handler{
		optimizer:    opt,
		catalog:      cat,
		exact:        exact,
		semantic:     semantic,
		intermediate: intermediate,
		health:       health,
		events:       events,
	}
}

// Routes builds the chi router with all endpoints and middleware.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/healthz", h.Healthz)
	r.Post("/v1/optimize", h.Optimize)
	r.Get("/v1/stats", h.Stats)
	r.Get("/v1/models", h.ListModels)
	r.Post("/v1/invalidate", h.Invalidate)
	return r
}

// Optimize handles POST /v1/optimize.
func (h *Handler) Optimize(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var req types.OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	defer r.Body.Close()

	req.RequestID = reqID
	req.ReceivedAt = time.Now()

	if req.RoutingMode != "" && !req.RoutingMode.Valid() {
		httputil.WriteBadRequestError(w, reqID, "routing_mode must be autopilot, guided, or explicit")
		return
	}
	if req.RoutingMode == types.ModeExplicit && req.ModelOverride == "" {
		httputil.WriteBadRequestError(w, reqID, "explicit mode requires model_override")
		return
	}

	resp, err := h.optimizer.Optimize(r.Context(), &req)
	if err != nil {
		h.writeOptimizeError(w, reqID, err)
		return
	}

	slog.Info("request completed",
		"request_id", reqID,
		"mode", string(req.RoutingMode),
		"model", resp.ModelUsed,
		"cache_hit", resp.CacheHit,
		"cache_tier", resp.CacheTier,
		"cost_usd", resp.CostUSD,
		"cost_saved_usd", resp.CostSavedUSD,
		"duration_ms", resp.LatencyMs,
		"org_id", req.OrganizationID,
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) writeOptimizeError(w http.ResponseWriter, reqID string, err error) {
	switch {
	case errors.Is(err, optimizer.ErrEmptyPrompt),
		errors.Is(err, optimizer.ErrPromptTooLong),
		errors.Is(err, constraint.ErrInvalidPreference):
		httputil.WriteBadRequestError(w, reqID, err.Error())
	case errors.Is(err, catalog.ErrModelNotFound):
		httputil.WriteNotFoundError(w, reqID, err.Error())
	case errors.Is(err, optimizer.ErrProvidersExhausted), errors.Is(err, routing.ErrNoModels):
		httputil.WriteProvidersExhaustedError(w, reqID, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httputil.WriteError(w, reqID, http.StatusGatewayTimeout, "server_error", "timeout", err.Error())
	default:
		slog.Error("optimize failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "internal error")
	}
}

// statsResponse aggregates per-tier counters, breaker states, and event totals.
type statsResponse struct {
	Exact        cache.ExactStats        `json:"tier1_exact"`
	Semantic     cache.SemanticStats     `json:"tier2_semantic"`
	Intermediate cache.IntermediateStats `json:"tier3_intermediate"`
	Providers    map[string]string       `json:"provider_circuits,omitempty"`
	Last24h      *eventlog.Summary       `json:"last_24h,omitempty"`
}

// Stats handles GET /v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := statsResponse{}
	if h.exact != nil {
		resp.Exact = h.exact.Stats(ctx)
	}
	if h.semantic != nil {
		resp.Semantic = h.semantic.Stats(ctx)
	}
	if h.intermediate != nil {
		resp.Intermediate = h.intermediate.Stats(ctx)
	}
	if h.health != nil {
		resp.Providers = h.health.States()
	}
	if h.events.Enabled() {
		if sum, err := h.events.Summarize(ctx, time.Now().Add(-24*time.Hour)); err == nil {
			resp.Last24h = sum
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListModels handles GET /v1/models.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	type modelObject struct {
		Name              string  `json:"name"`
		Provider          string  `json:"provider"`
		QualityScore      float64 `json:"quality_score"`
		AvgLatencyMs      int     `json:"avg_latency_ms"`
		CostPerKTokensIn  float64 `json:"cost_per_k_tokens_in"`
		CostPerKTokensOut float64 `json:"cost_per_k_tokens_out"`
		Available         bool    `json:"available"`
	}

	models := make([]modelObject, 0, h.catalog.Len())
	for _, p := range h.catalog.All() {
		models = append(models, modelObject{
			Name:              p.Name,
			Provider:          p.Provider,
			QualityScore:      p.QualityScore,
			AvgLatencyMs:      p.AvgLatencyMs,
			CostPerKTokensIn:  p.CostPerKTokensIn,
			CostPerKTokensOut: p.CostPerKTokensOut,
			Available:         p.Available,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"models": models})
}

type invalidateRequest struct {
	Query      string `json:"query,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// Invalidate handles POST /v1/invalidate: drop cached entries for an exact
// query or every intermediate result for a document.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	defer r.Body.Close()

	if req.Query == "" && req.DocumentID == "" {
		httputil.WriteBadRequestError(w, reqID, "query or document_id is required")
		return
	}

	ctx := r.Context()
	if req.Query != "" {
		if h.exact != nil {
			if err := h.exact.Invalidate(ctx, req.Query); err != nil {
				httputil.WriteInternalError(w, reqID, "tier1 invalidation failed")
				return
			}
		}
		if h.semantic != nil {
			if err := h.semantic.Invalidate(ctx, req.Query); err != nil {
				httputil.WriteInternalError(w, reqID, "tier2 invalidation failed")
				return
			}
		}
	}
	if req.DocumentID != "" && h.intermediate != nil {
		if err := h.intermediate.InvalidateByDocument(ctx, req.DocumentID); err != nil {
			httputil.WriteInternalError(w, reqID, "tier3 invalidation failed")
			return
		}
	}

	slog.Info("cache invalidated", "request_id", reqID, "query_set", req.Query != "", "document_id", req.DocumentID)
	w.WriteHeader(http.StatusNoContent)
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = "req_" + uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}
