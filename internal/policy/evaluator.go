// Package policy gates cache admission with OPA. Organizations can forbid
// serving certain task types from cache, or forbid writing their traffic into
// shared tiers, without a code change. With no policies loaded every request
// is cacheable; a policy denial falls back to fresh computation, never to an
// error.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/af-corp/semroute/internal/config"
	"github.com/open-policy-agent/opa/rego"
)

// Operations a policy can rule on.
const (
	OpRead  = "read"  // serve a response from cache
	OpWrite = "write" // store a response into cache
)

// Input is the document sent to OPA for one admission decision.
type Input struct {
	User      InputUser    `json:"user"`
	Request   InputRequest `json:"request"`
	Operation string       `json:"operation"`
	Tier      string       `json:"tier"`
	Time      InputTime    `json:"time"`
}

type InputUser struct {
	ID  string `json:"id"`
	Org string `json:"org"`
}

type InputRequest struct {
	TaskType string `json:"task_type"`
	Model    string `json:"model"`
}

type InputTime struct {
	Hour int    `json:"hour"`
	Day  string `json:"day"`
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

// Evaluator holds a prepared Rego query, hot-swappable on reload.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      func() config.PolicyConfig
}

func NewEvaluator(cfg func() config.PolicyConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

func (e *Evaluator) Enabled() bool { return e.cfg().Enabled }

// Load compiles every .rego module under the configured bundle path.
func (e *Evaluator) Load() error {
	cfg := e.cfg()
	modules, err := LoadRegoFiles(cfg.BundlePath)
	if err != nil {
		return fmt.Errorf("load rego files: %w", err)
	}
	if len(modules) == 0 {
		slog.Warn("no rego files found", "path", cfg.BundlePath)
		return nil
	}
	return e.LoadFromModules(modules)
}

// LoadFromModules compiles policies from in-memory sources.
func (e *Evaluator) LoadFromModules(modules map[string]string) error {
	opts := []func(*rego.Rego){
		rego.Query("[data.semroute.cache.allow, data.semroute.cache.reason]"),
	}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()

	slog.Info("cache admission policies loaded", "modules", len(modules))
	return nil
}

// Evaluate runs the admission query. Disabled or empty evaluators allow
// everything. Evaluation errors deny, so a broken policy degrades to fresh
// computation rather than serving responses the policy meant to block.
func (e *Evaluator) Evaluate(ctx context.Context, input Input) Decision {
	if !e.cfg().Enabled {
		return Decision{Allowed: true, Reason: "policy disabled"}
	}

	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()
	if prepared == nil {
		return Decision{Allowed: true, Reason: "no policies loaded"}
	}

	timeout := e.cfg().EvaluationTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		slog.Error("policy evaluation failed", "error", err)
		return Decision{Allowed: false, Reason: "policy evaluation error"}
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allowed: false, Reason: "no policy result"}
	}

	arr, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok || len(arr) < 2 {
		return Decision{Allowed: false, Reason: "unexpected policy result format"}
	}

	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return Decision{Allowed: allowed, Reason: reason}
}

// Allow is the admission check used by the optimizer pipeline.
func (e *Evaluator) Allow(ctx context.Context, org, user, taskType, model, tier, op string) Decision {
	now := time.Now().UTC()
	return e.Evaluate(ctx, Input{
		User:      InputUser{ID: user, Org: org},
		Request:   InputRequest{TaskType: taskType, Model: model},
		Operation: op,
		Tier:      tier,
		Time:      InputTime{Hour: now.Hour(), Day: now.Weekday().String()},
	})
}
