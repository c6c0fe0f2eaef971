// Package routing picks the model that serves a cache-miss request. Three
// modes: autopilot derives constraints from the task type, guided maps user
// preference words, explicit honors a caller-named model.
package routing

import (
	"errors"
	"fmt"

	"github.com/af-corp/semroute/internal/catalog"
	"github.com/af-corp/semroute/internal/constraint"
	"github.com/af-corp/semroute/internal/types"
)

// ErrNoModels is returned when the catalog has no available models at all.
var ErrNoModels = errors.New("no available models in catalog")

// Decision is the outcome of model selection for one request. Transient.
type Decision struct {
	ModelName           string
	Provider            string
	Score               float64
	Reason              string
	CandidatesEvaluated int
	FallbackUsed        bool

	// Alternatives are the remaining candidates ranked by score descending,
	// used for provider-failure fallback.
	Alternatives []catalog.ModelProfile

	// ReferenceCosts reports each other model's blended per-1K price in
	// explicit mode so callers can see potential savings.
	ReferenceCosts map[string]float64
}

// Engine selects models against the catalog. Stateless between requests.
type Engine struct {
	catalog *catalog.Catalog
}

func NewEngine(cat *catalog.Catalog) *Engine {
	return &Engine{catalog: cat}
}

// SelectModel dispatches on the request's routing mode.
func (e *Engine) SelectModel(req *types.OptimizeRequest, taskType string) (Decision, error) {
	switch req.RoutingMode {
	case types.ModeExplicit:
		return e.selectExplicit(req)
	case types.ModeGuided:
		return e.selectGuided(req, taskType)
	case types.ModeAutopilot, "":
		return e.selectAutopilot(req, taskType)
	default:
		return Decision{}, fmt.Errorf("unknown routing mode %q", req.RoutingMode)
	}
}

func (e *Engine) selectAutopilot(req *types.OptimizeRequest, taskType string) (Decision, error) {
	cons := constraint.Defaults(taskType)
	cons = overrideNumeric(cons, req)
	d, err := e.pick(cons, req.CostBudget)
	if err != nil {
		return Decision{}, err
	}
	d.Reason = fmt.Sprintf("autopilot: task=%s quality>=%.1f latency<=%dms, %s", taskType, cons.QualityThreshold, cons.LatencyBudgetMs, d.Reason)
	return d, nil
}

func (e *Engine) selectGuided(req *types.OptimizeRequest, taskType string) (Decision, error) {
	cons, err := constraint.Interpret(req.QualityPreference, req.LatencyPreference, taskType)
	if err != nil {
		return Decision{}, err
	}
	cons = overrideNumeric(cons, req)
	d, err := e.pick(cons, req.CostBudget)
	if err != nil {
		return Decision{}, err
	}
	d.Reason = fmt.Sprintf("guided: quality=%s latency=%s task=%s, %s", orDefault(req.QualityPreference, "medium"), orDefault(req.LatencyPreference, "normal"), taskType, d.Reason)
	return d, nil
}

func (e *Engine) selectExplicit(req *types.OptimizeRequest) (Decision, error) {
	profile, err := e.catalog.Get(req.ModelOverride)
	if err != nil {
		return Decision{}, err
	}

	reference := make(map[string]float64)
	for _, p := range e.catalog.All() {
		if p.Name == profile.Name {
			continue
		}
		reference[p.Name] = p.AvgCostPerKTokens()
	}

	return Decision{
		ModelName:           profile.Name,
		Provider:            profile.Provider,
		Score:               score(profile),
		Reason:              fmt.Sprintf("explicit: caller requested %s", profile.Name),
		CandidatesEvaluated: 1,
		ReferenceCosts:      reference,
	}, nil
}

// overrideNumeric lets direct numeric constraints from the request tighten
// the derived ones.
func overrideNumeric(cons constraint.Constraints, req *types.OptimizeRequest) constraint.Constraints {
	if req.QualityThreshold > cons.QualityThreshold {
		cons.QualityThreshold = req.QualityThreshold
	}
	if req.LatencyBudgetMs > 0 && req.LatencyBudgetMs < cons.LatencyBudgetMs {
		cons.LatencyBudgetMs = req.LatencyBudgetMs
	}
	return cons
}

// pick filters, scores, and selects the best candidate. With zero candidates
// it falls back to the highest-quality available profile in the full catalog.
func (e *Engine) pick(cons constraint.Constraints, costBudget float64) (Decision, error) {
	candidates := e.catalog.Filter(cons.QualityThreshold, cons.LatencyBudgetMs)
	if costBudget > 0 {
		filtered := candidates[:0]
		for _, p := range candidates {
			if p.AvgCostPerKTokens() <= costBudget {
				filtered = append(filtered, p)
			}
		}
		candidates = filtered
	}

	if len(candidates) == 0 {
		best, err := e.highestQuality()
		if err != nil {
			return Decision{}, err
		}
		return Decision{
			ModelName:    best.Name,
			Provider:     best.Provider,
			Score:        score(best),
			Reason:       fmt.Sprintf("no model met constraints, fell back to highest quality (%s)", best.Name),
			FallbackUsed: true,
		}, nil
	}

	// Candidates come back sorted by name, so ties break deterministically on
	// the first (lowest) name.
	bestIdx := 0
	bestScore := score(candidates[0])
	for i := 1; i < len(candidates); i++ {
		if s := score(candidates[i]); s > bestScore {
			bestIdx = i
			bestScore = s
		}
	}

	best := candidates[bestIdx]
	alternatives := rankedAlternatives(candidates, bestIdx)

	return Decision{
		ModelName:           best.Name,
		Provider:            best.Provider,
		Score:               bestScore,
		Reason:              fmt.Sprintf("best quality/cost score %.2f among %d candidates", bestScore, len(candidates)),
		CandidatesEvaluated: len(candidates),
		Alternatives:        alternatives,
	}, nil
}

func (e *Engine) highestQuality() (catalog.ModelProfile, error) {
	var best catalog.ModelProfile
	found := false
	for _, p := range e.catalog.All() {
		if !p.Available {
			continue
		}
		if !found || p.QualityScore > best.QualityScore {
			best = p
			found = true
		}
	}
	if !found {
		return catalog.ModelProfile{}, ErrNoModels
	}
	return best, nil
}

// score is quality per blended dollar per 1K tokens. Near-free models get a
// price floor so the ratio stays finite.
func score(p catalog.ModelProfile) float64 {
	cost := p.AvgCostPerKTokens()
	if cost < 1e-6 {
		cost = 1e-6
	}
	return p.QualityScore / cost
}

func rankedAlternatives(candidates []catalog.ModelProfile, bestIdx int) []catalog.ModelProfile {
	out := make([]catalog.ModelProfile, 0, len(candidates)-1)
	for i, p := range candidates {
		if i == bestIdx {
			continue
		}
		out = append(out, p)
	}
	// Insertion sort by score descending; candidate lists are tiny.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && score(out[j]) > score(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
