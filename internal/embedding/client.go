// Package embedding wraps an OpenAI-compatible embeddings API behind the
// Provider interface the semantic cache consumes. Returned vectors are
// re-normalized to unit L2 norm so downstream inner products are cosine
// similarities.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/semroute/internal/config"
	"github.com/af-corp/semroute/internal/retry"
	"github.com/af-corp/semroute/internal/similarity"
)

// ErrUnavailable is returned after retries against the embedding provider are
// exhausted. Callers must treat it as a Tier 2 miss, not a fatal error.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider produces dense vectors for text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Client is an HTTP embedding provider client.
type Client struct {
	cfg    config.EmbeddingConfig
	client *http.Client
	policy retry.Policy
}

func NewClient(cfg config.EmbeddingConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 3
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		policy: retry.Policy{
			MaxAttempts: attempts,
			BaseDelay:   300 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Jitter:      true,
		},
	}
}

func (c *Client) Dimension() int { return c.cfg.Dimension }

// Embed returns one unit-norm vector per input text, preserving input order.
// Inputs are sent in chunks of the configured batch size.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32
	err := retry.Do(ctx, c.policy, func() error {
		v, err := c.callOnce(ctx, batch)
		if err != nil {
			return err
		}
		vectors = v
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return vectors, nil
}

func (c *Client) callOnce(ctx context.Context, batch []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.cfg.Model, Input: batch})
	if err != nil {
		return nil, retry.NoRetry(fmt.Errorf("marshal embedding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, retry.NoRetry(fmt.Errorf("create embedding request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		err := fmt.Errorf("embedding provider rate limited")
		if wait := parseRetryAfter(resp.Header.Get("Retry-After")); wait > 0 {
			return nil, &retry.RetryAfter{Err: err, Wait: wait}
		}
		return nil, err
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("embedding provider status %d", resp.StatusCode)
	default:
		return nil, retry.NoRetry(fmt.Errorf("embedding provider status %d: %s", resp.StatusCode, string(data)))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal embedding response: %w", err)
	}
	if len(parsed.Data) != len(batch) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(parsed.Data), len(batch))
	}

	// The API may return items out of order; index is authoritative.
	vectors := make([][]float32, len(batch))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(batch) {
			return nil, fmt.Errorf("embedding provider returned index %d out of range", item.Index)
		}
		if c.cfg.Dimension > 0 && len(item.Embedding) != c.cfg.Dimension {
			return nil, retry.NoRetry(fmt.Errorf("%w: got %d want %d", similarity.ErrDimensionMismatch, len(item.Embedding), c.cfg.Dimension))
		}
		vectors[item.Index] = similarity.Normalize(item.Embedding)
	}
	return vectors, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
