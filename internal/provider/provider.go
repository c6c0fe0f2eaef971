// Package provider executes completions against upstream LLM APIs. Each
// provider gets its own HTTP client, circuit breaker, and retry handling so a
// failing upstream degrades routing instead of taking the service down.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/af-corp/semroute/internal/config"
	"github.com/af-corp/semroute/internal/retry"
)

var (
	// ErrProviderNotFound is returned when a model names a provider that has
	// no configured client.
	ErrProviderNotFound = errors.New("provider not configured")

	// ErrCircuitOpen is returned without touching the network when the
	// provider's breaker is open. Callers should try the next candidate.
	ErrCircuitOpen = errors.New("provider circuit open")
)

// Result is one successful completion.
type Result struct {
	Text       string
	Model      string
	Provider   string
	TokensIn   int
	TokensOut  int
	LatencyMs  int64
	FinishedAt time.Time
}

// Client is a single upstream completion API.
type Client interface {
	Name() string
	Complete(ctx context.Context, model, prompt string, maxTokens int) (*Result, error)
}

// StatusError carries the upstream HTTP status so the dispatcher can decide
// what is retryable.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Code, e.Body)
}

// Registry maps provider names to clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

func (r *Registry) Register(name string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = c
}

func (r *Registry) Get(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// BuildFromConfig constructs clients for every configured provider. Unknown
// types get an OpenAI-compatible client since most hosted APIs speak that
// format.
func BuildFromConfig(cfg *config.ProvidersConfig) *Registry {
	registry := NewRegistry()
	for name, pc := range cfg.Providers {
		client := &http.Client{
			Timeout: pc.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        pc.MaxConcurrent,
				MaxIdleConnsPerHost: pc.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}

		switch pc.Type {
		case "anthropic":
			registry.Register(name, NewAnthropicClient(name, pc, client))
		default:
			registry.Register(name, NewOpenAIClient(name, pc, client))
		}
	}
	return registry
}

// ReloadFrom rebuilds the client set from cfg and swaps it in, so config
// reloads pick up credential or endpoint changes without restarting.
func (r *Registry) ReloadFrom(cfg *config.ProvidersConfig) {
	fresh := BuildFromConfig(cfg)
	r.mu.Lock()
	r.clients = fresh.clients
	r.mu.Unlock()
}

// Dispatcher wraps the registry with circuit breaking and retries.
type Dispatcher struct {
	registry *Registry
	health   *HealthTracker
	policy   retry.Policy
}

func NewDispatcher(registry *Registry, health *HealthTracker, policy retry.Policy) *Dispatcher {
	return &Dispatcher{registry: registry, health: health, policy: policy}
}

// Execute runs one completion against the named provider, recording the
// outcome on its breaker. Retries stay inside a single provider; switching
// providers is the caller's decision.
func (d *Dispatcher) Execute(ctx context.Context, providerName, model, prompt string, maxTokens int) (*Result, error) {
	client, ok := d.registry.Get(providerName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerName)
	}
	if !d.health.IsAvailable(providerName) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, providerName)
	}

	var result *Result
	start := time.Now()
	err := retry.Do(ctx, d.policy, func() error {
		r, err := client.Complete(ctx, model, prompt, maxTokens)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		d.health.RecordFailure(providerName)
		return nil, err
	}

	d.health.RecordSuccess(providerName)
	result.Provider = providerName
	result.LatencyMs = time.Since(start).Milliseconds()
	result.FinishedAt = time.Now()
	return result, nil
}
