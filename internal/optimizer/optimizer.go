// Package optimizer is the request pipeline: check the cache tiers in order,
// and on a full miss route to a model and execute. Each stage short-circuits
// the ones after it, so a Tier 1 hit costs one key lookup and no embedding or
// provider traffic.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/af-corp/semroute/internal/cache"
	"github.com/af-corp/semroute/internal/catalog"
	"github.com/af-corp/semroute/internal/economics"
	"github.com/af-corp/semroute/internal/eventlog"
	"github.com/af-corp/semroute/internal/policy"
	"github.com/af-corp/semroute/internal/provider"
	"github.com/af-corp/semroute/internal/routing"
	"github.com/af-corp/semroute/internal/task"
	"github.com/af-corp/semroute/internal/telemetry"
	"github.com/af-corp/semroute/internal/tokens"
	"github.com/af-corp/semroute/internal/types"
	"github.com/af-corp/semroute/internal/workflow"
)

var (
	ErrEmptyPrompt = errors.New("prompt is empty")

	ErrPromptTooLong = errors.New("prompt exceeds maximum length")

	// ErrProvidersExhausted means the selected model and every eligible
	// alternative failed.
	ErrProvidersExhausted = errors.New("all candidate providers failed")
)

// Tier names used in metrics, events, and policy inputs.
const (
	TierExact        = "exact"
	TierSemantic     = "semantic"
	TierIntermediate = "intermediate"
)

// Deps wires the pipeline. Policy, Events, and Metrics may be nil.
type Deps struct {
	Detector     *task.Detector
	Exact        *cache.ExactCache
	Semantic     *cache.SemanticCache
	Intermediate *cache.IntermediateCache
	Engine       *routing.Engine
	Dispatcher   *provider.Dispatcher
	Catalog      *catalog.Catalog
	Policy       *policy.Evaluator
	Events       *eventlog.Store
	Metrics      *telemetry.Metrics
	Estimator    *tokens.Estimator

	// ExpectedOutputFactor projects completion tokens from prompt tokens for
	// recompute-cost estimation.
	ExpectedOutputFactor float64
	MaxPromptLength      int
}

type Optimizer struct {
	deps Deps
}

func New(deps Deps) *Optimizer {
	if deps.ExpectedOutputFactor <= 0 {
		deps.ExpectedOutputFactor = 1.0
	}
	return &Optimizer{deps: deps}
}

// Optimize runs one request through the full pipeline.
func (o *Optimizer) Optimize(ctx context.Context, req *types.OptimizeRequest) (*types.OptimizeResponse, error) {
	start := time.Now()

	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if o.deps.MaxPromptLength > 0 && len(req.Prompt) > o.deps.MaxPromptLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPromptTooLong, len(req.Prompt))
	}

	taskType := o.taskType(req)

	// Tier 1: exact match.
	if resp, hit := o.tryExact(ctx, req, taskType, start); hit {
		return resp, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recompute := o.recomputeCost(req.Prompt)

	// Tier 2: semantic match.
	resp, hit, err := o.trySemantic(ctx, req, taskType, recompute, start)
	if err != nil {
		return nil, err
	}
	if hit {
		return resp, nil
	}

	// Tier 3: decomposed workflow. Document questions, multi-part questions,
	// and comparisons all decompose; runWorkflow declines trivial one-step
	// prompts so those stay on the plain path.
	if o.deps.Intermediate != nil {
		resp, handled, err := o.runWorkflow(ctx, req, taskType, start)
		if err != nil {
			return nil, err
		}
		if handled {
			return resp, nil
		}
	}

	// Full miss: route and execute.
	return o.computeFresh(ctx, req, taskType, start)
}

func (o *Optimizer) taskType(req *types.OptimizeRequest) string {
	if req.TaskID != "" {
		return req.TaskID
	}
	if o.deps.Detector == nil {
		return task.TypeGeneral
	}
	return o.deps.Detector.Detect(req.Prompt).TaskType
}

// costSensitivity maps the quality preference onto the threshold table's cost
// sensitivity axis: quality-focused callers tolerate fewer near-miss answers.
func costSensitivity(req *types.OptimizeRequest) string {
	switch strings.ToLower(req.QualityPreference) {
	case "high", "max":
		return economics.SensitivityLow
	case "low":
		return economics.SensitivityHigh
	}
	return economics.SensitivityMedium
}

// recomputeCost estimates what answering the prompt fresh would cost on the
// cheapest available model.
func (o *Optimizer) recomputeCost(prompt string) float64 {
	if o.deps.Estimator == nil || o.deps.Catalog == nil {
		return 0
	}
	in := o.deps.Estimator.Count(prompt)
	out := o.deps.Estimator.EstimateCompletion(in, o.deps.ExpectedOutputFactor)

	cheapest := -1.0
	for _, p := range o.deps.Catalog.All() {
		if !p.Available {
			continue
		}
		if c := p.CostFor(in, out); cheapest < 0 || c < cheapest {
			cheapest = c
		}
	}
	if cheapest < 0 {
		return 0
	}
	return cheapest
}

func (o *Optimizer) tryExact(ctx context.Context, req *types.OptimizeRequest, taskType string, start time.Time) (*types.OptimizeResponse, bool) {
	if o.deps.Exact == nil {
		return nil, false
	}
	if !o.policyAllows(ctx, req, taskType, "", TierExact, policy.OpRead) {
		return nil, false
	}

	lookupStart := time.Now()
	entry, ok, err := o.deps.Exact.Get(ctx, req.Prompt)
	o.recordLookup(TierExact, lookupStart)
	if err != nil {
		slog.Warn("tier1 lookup failed", "request_id", req.RequestID, "error", err)
		return nil, false
	}
	if !ok {
		o.recordMiss(TierExact, "not_found")
		return nil, false
	}

	o.recordHit(TierExact, taskType)
	resp := &types.OptimizeResponse{
		RequestID:     req.RequestID,
		Response:      entry.Response,
		ModelUsed:     entry.Model,
		CostUSD:       0,
		CostSavedUSD:  entry.CostUSD,
		LatencyMs:     int(time.Since(start).Milliseconds()),
		CacheHit:      true,
		CacheTier:     1,
		RoutingReason: "exact cache hit",
	}
	o.finish(req, taskType, resp, TierExact, entry.Model)
	return resp, true
}

func (o *Optimizer) trySemantic(ctx context.Context, req *types.OptimizeRequest, taskType string, recompute float64, start time.Time) (*types.OptimizeResponse, bool, error) {
	if o.deps.Semantic == nil {
		return nil, false, nil
	}
	if !o.policyAllows(ctx, req, taskType, "", TierSemantic, policy.OpRead) {
		return nil, false, nil
	}

	lookupStart := time.Now()
	result, err := o.deps.Semantic.Get(ctx, req.Prompt, taskType, costSensitivity(req), recompute)
	o.recordLookup(TierSemantic, lookupStart)
	if err != nil {
		return nil, false, err
	}
	if !result.Hit {
		o.recordMiss(TierSemantic, missReason(result.Reason))
		return nil, false, nil
	}

	o.recordHit(TierSemantic, taskType)
	resp := &types.OptimizeResponse{
		RequestID:     req.RequestID,
		Response:      result.Response,
		ModelUsed:     result.Model,
		CostUSD:       0,
		CostSavedUSD:  recompute,
		LatencyMs:     int(time.Since(start).Milliseconds()),
		CacheHit:      true,
		CacheTier:     2,
		RoutingReason: fmt.Sprintf("semantic cache hit (similarity %.4f)", result.Similarity),
	}
	o.finish(req, taskType, resp, TierSemantic, result.Model)
	return resp, true, nil
}

// runWorkflow decomposes the request and serves it step by step, reusing
// cached intermediate results. Returns handled=false when decomposition
// produces a single trivial step; the plain pipeline handles that cheaper.
func (o *Optimizer) runWorkflow(ctx context.Context, req *types.OptimizeRequest, taskType string, start time.Time) (*types.OptimizeResponse, bool, error) {
	intent := "answer"
	if o.deps.Detector != nil {
		intent = o.deps.Detector.Detect(req.Prompt).Intent
	}
	steps := workflow.Decompose(req.Prompt, req.DocumentID, intent)
	if len(steps) < 2 {
		return nil, false, nil
	}

	decision, err := o.deps.Engine.SelectModel(req, taskType)
	if err != nil {
		return nil, false, err
	}

	var totalCost float64
	var totalIn, totalOut int
	var modelUsed string

	readAllowed := o.policyAllows(ctx, req, taskType, decision.ModelName, TierIntermediate, policy.OpRead)
	writeAllowed := o.policyAllows(ctx, req, taskType, decision.ModelName, TierIntermediate, policy.OpWrite)

	executor := func(ctx context.Context, step *workflow.Step) (string, error) {
		res, profile, err := o.dispatch(ctx, req, decision, step.InputText)
		if err != nil {
			return "", err
		}
		totalCost += profile.CostFor(res.TokensIn, res.TokensOut)
		totalIn += res.TokensIn
		totalOut += res.TokensOut
		modelUsed = profile.Name
		return res.Text, nil
	}

	if err := o.deps.Intermediate.ExecuteWorkflowGated(ctx, steps, executor, readAllowed, writeAllowed); err != nil {
		return nil, false, err
	}

	var parts []string
	allCached := true
	var saved float64
	for _, step := range steps {
		parts = append(parts, step.Result)
		if step.FromCache {
			saved += o.recomputeCost(step.InputText)
			o.recordHit(TierIntermediate, taskType)
		} else {
			allCached = false
			o.recordMiss(TierIntermediate, "not_found")
		}
	}

	resp := &types.OptimizeResponse{
		RequestID:     req.RequestID,
		Response:      strings.Join(parts, "\n\n"),
		ModelUsed:     modelUsed,
		TokensInput:   totalIn,
		TokensOutput:  totalOut,
		CostUSD:       totalCost,
		CostSavedUSD:  saved,
		LatencyMs:     int(time.Since(start).Milliseconds()),
		CacheHit:      allCached,
		RoutingReason: fmt.Sprintf("workflow: %d steps, %s", len(steps), decision.Reason),
	}
	if allCached {
		resp.CacheTier = 3
		resp.ModelUsed = ""
	}
	o.finish(req, taskType, resp, TierIntermediate, modelUsed)
	return resp, true, nil
}

func (o *Optimizer) computeFresh(ctx context.Context, req *types.OptimizeRequest, taskType string, start time.Time) (*types.OptimizeResponse, error) {
	decision, err := o.deps.Engine.SelectModel(req, taskType)
	if err != nil {
		return nil, err
	}

	res, profile, err := o.dispatch(ctx, req, decision, req.Prompt)
	if err != nil {
		return nil, err
	}

	cost := profile.CostFor(res.TokensIn, res.TokensOut)
	o.writeBack(ctx, req, taskType, res.Text, profile.Name, cost)

	// Routing savings: what the dearest eligible candidate would have charged
	// for the same tokens, minus what we paid. Explicit mode and fallback
	// selections report none.
	var saved float64
	if req.RoutingMode != types.ModeExplicit && !decision.FallbackUsed {
		for _, alt := range decision.Alternatives {
			if diff := alt.CostFor(res.TokensIn, res.TokensOut) - cost; diff > saved {
				saved = diff
			}
		}
	}

	resp := &types.OptimizeResponse{
		RequestID:     req.RequestID,
		Response:      res.Text,
		ModelUsed:     profile.Name,
		TokensInput:   res.TokensIn,
		TokensOutput:  res.TokensOut,
		CostUSD:       cost,
		CostSavedUSD:  saved,
		LatencyMs:     int(time.Since(start).Milliseconds()),
		RoutingReason: decision.Reason,
	}
	o.finish(req, taskType, resp, "computed", profile.Name)
	return resp, nil
}

// dispatch executes against the decided model, falling back through ranked
// alternatives on provider failure. Explicit mode never substitutes.
func (o *Optimizer) dispatch(ctx context.Context, req *types.OptimizeRequest, decision routing.Decision, prompt string) (*provider.Result, catalog.ModelProfile, error) {
	primary, err := o.deps.Catalog.Get(decision.ModelName)
	if err != nil {
		return nil, catalog.ModelProfile{}, err
	}

	candidates := []catalog.ModelProfile{primary}
	if req.RoutingMode != types.ModeExplicit {
		candidates = append(candidates, decision.Alternatives...)
	}

	var lastErr error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, catalog.ModelProfile{}, err
		}
		res, err := o.deps.Dispatcher.Execute(ctx, c.Provider, c.Name, prompt, c.MaxOutputTokens)
		if err != nil {
			slog.Warn("provider execution failed, trying next candidate",
				"request_id", req.RequestID, "model", c.Name, "provider", c.Provider, "error", err)
			lastErr = err
			continue
		}
		return res, c, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no candidates")
	}
	return nil, catalog.ModelProfile{}, fmt.Errorf("%w: %v", ErrProvidersExhausted, lastErr)
}

// writeBack populates Tier 1 and Tier 2 after a fresh computation. Failures
// are logged; the response already exists and must be returned regardless. A
// canceled context skips writes so no partial state lands in the caches.
func (o *Optimizer) writeBack(ctx context.Context, req *types.OptimizeRequest, taskType, response, model string, cost float64) {
	if ctx.Err() != nil {
		return
	}
	if o.deps.Exact != nil && o.policyAllows(ctx, req, taskType, model, TierExact, policy.OpWrite) {
		if err := o.deps.Exact.Set(ctx, req.Prompt, response, model, cost); err != nil {
			slog.Warn("tier1 write-back failed", "request_id", req.RequestID, "error", err)
		}
	}
	if o.deps.Semantic != nil && o.policyAllows(ctx, req, taskType, model, TierSemantic, policy.OpWrite) {
		if err := o.deps.Semantic.Set(ctx, req.Prompt, response, model, taskType, cost); err != nil {
			slog.Warn("tier2 write-back failed", "request_id", req.RequestID, "error", err)
		}
	}
}

func (o *Optimizer) policyAllows(ctx context.Context, req *types.OptimizeRequest, taskType, model, tier, op string) bool {
	if o.deps.Policy == nil || !o.deps.Policy.Enabled() {
		return true
	}
	d := o.deps.Policy.Allow(ctx, req.OrganizationID, req.UserID, taskType, model, tier, op)
	if !d.Allowed {
		slog.Debug("cache admission denied",
			"request_id", req.RequestID, "tier", tier, "operation", op, "reason", d.Reason)
		if o.deps.Metrics != nil {
			o.deps.Metrics.RecordPolicyDeny(tier, op)
		}
	}
	return d.Allowed
}

// finish emits the event row and request metrics.
func (o *Optimizer) finish(req *types.OptimizeRequest, taskType string, resp *types.OptimizeResponse, outcome, model string) {
	if o.deps.Events != nil {
		o.deps.Events.RecordAsync(&eventlog.Event{
			RequestID:      req.RequestID,
			OrganizationID: req.OrganizationID,
			UserID:         req.UserID,
			TaskType:       taskType,
			RoutingMode:    string(req.RoutingMode),
			CacheHit:       resp.CacheHit,
			CacheTier:      tierName(resp.CacheTier),
			Model:          resp.ModelUsed,
			TokensIn:       resp.TokensInput,
			TokensOut:      resp.TokensOutput,
			CostUSD:        resp.CostUSD,
			CostSavedUSD:   resp.CostSavedUSD,
			LatencyMs:      int64(resp.LatencyMs),
			RoutingReason:  resp.RoutingReason,
		})
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordRequest(telemetry.RequestLabels{
			Org:          req.OrganizationID,
			Mode:         string(req.RoutingMode),
			Task:         taskType,
			Outcome:      outcome,
			Model:        model,
			DurationMs:   float64(resp.LatencyMs),
			TokensIn:     resp.TokensInput,
			TokensOut:    resp.TokensOutput,
			CostUSD:      resp.CostUSD,
			CostSavedUSD: resp.CostSavedUSD,
		})
	}
}

func (o *Optimizer) recordHit(tier, taskType string) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordCacheHit(tier, taskType)
	}
}

func (o *Optimizer) recordMiss(tier, reason string) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordCacheMiss(tier, reason)
	}
}

func (o *Optimizer) recordLookup(tier string, start time.Time) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordCacheLookup(tier, float64(time.Since(start).Microseconds())/1000)
	}
}

func tierName(tier int) string {
	switch tier {
	case 1:
		return TierExact
	case 2:
		return TierSemantic
	case 3:
		return TierIntermediate
	}
	return ""
}

// missReason collapses free-text rejection reasons into a bounded label set.
func missReason(reason string) string {
	switch {
	case strings.Contains(reason, "threshold"):
		return "below_threshold"
	case strings.Contains(reason, "mismatch"):
		return "economic_rejection"
	case strings.Contains(reason, "unavailable"):
		return "dependency_unavailable"
	case strings.Contains(reason, "no candidates"):
		return "empty_index"
	}
	return "not_found"
}
