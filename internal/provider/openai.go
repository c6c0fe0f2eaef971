package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/semroute/internal/config"
	"github.com/af-corp/semroute/internal/retry"
)

// OpenAIClient speaks the OpenAI chat completions API. It also serves any
// OpenAI-compatible endpoint via BaseURL.
type OpenAIClient struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

func NewOpenAIClient(name string, cfg config.ProviderConfig, client *http.Client) *OpenAIClient {
	return &OpenAIClient{name: name, cfg: cfg, client: client}
}

func (c *OpenAIClient) Name() string { return c.name }

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) Complete(ctx context.Context, model, prompt string, maxTokens int) (*Result, error) {
	body, err := json.Marshal(openAIRequest{
		Model:     model,
		Messages:  []openAIMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, retry.NoRetry(fmt.Errorf("marshal openai request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, retry.NoRetry(fmt.Errorf("create openai request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	for k, v := range c.cfg.Headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openai response: %w", err)
	}
	if err := checkStatus(c.name, resp, data); err != nil {
		return nil, err
	}

	var parsed openAIResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal openai response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &Result{
		Text:      parsed.Choices[0].Message.Content,
		Model:     parsed.Model,
		TokensIn:  parsed.Usage.PromptTokens,
		TokensOut: parsed.Usage.CompletionTokens,
	}, nil
}

// checkStatus classifies upstream statuses for the retry loop: 429 honors
// Retry-After, 5xx retries with backoff, other non-200s are permanent.
func checkStatus(providerName string, resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		err := &StatusError{Provider: providerName, Code: resp.StatusCode, Body: string(body)}
		if wait := retryAfterHint(resp.Header.Get("Retry-After")); wait > 0 {
			return &retry.RetryAfter{Err: err, Wait: wait}
		}
		return err
	case resp.StatusCode >= 500:
		return &StatusError{Provider: providerName, Code: resp.StatusCode, Body: string(body)}
	default:
		return retry.NoRetry(&StatusError{Provider: providerName, Code: resp.StatusCode, Body: string(body)})
	}
}

func retryAfterHint(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
