// Package llm wraps the text-generation backend used by the generative
// decision policy. The backend speaks the OpenAI chat-completion protocol;
// transient failures are retried on a fixed backoff before surfacing.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/talgya/macrosim/internal/econ"
)

// Message is one role-tagged entry of a conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// Usage reports token counts for one completed call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Backend produces one completion for an ordered conversation.
// Implementations must be safe for concurrent use.
type Backend interface {
	Complete(ctx context.Context, msgs []Message, maxTokens int) (string, Usage, error)
}

// RetryPolicy bounds attempts against the backend. Backoff is fixed
// between attempts; the final failure wraps econ.ErrExternalService.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Client drives a Backend under a retry policy and meters cost.
type Client struct {
	backend Backend
	retry   RetryPolicy
	meter   *CostMeter
}

// NewClient builds a retrying client. MaxAttempts below 1 is a
// configuration error.
func NewClient(backend Backend, retry RetryPolicy, meter *CostMeter) (*Client, error) {
	if retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: retry budget must allow at least one attempt", econ.ErrConfiguration)
	}
	return &Client{backend: backend, retry: retry, meter: meter}, nil
}

// Complete runs one conversation through the backend, retrying transient
// failures. Token usage from every attempt that reached the service is
// metered, including failed attempts that reported usage.
func (c *Client) Complete(ctx context.Context, msgs []Message, maxTokens int) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		text, usage, err := c.backend.Complete(ctx, msgs, maxTokens)
		if c.meter != nil {
			c.meter.Add(usage)
		}
		if err == nil {
			return text, nil
		}
		lastErr = err
		slog.Debug("backend call failed", "attempt", attempt, "error", err)

		if attempt < c.retry.MaxAttempts {
			select {
			case <-time.After(c.retry.Backoff):
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %w", econ.ErrExternalService, ctx.Err())
			}
		}
	}
	return "", fmt.Errorf("%w: %d attempts exhausted: %w", econ.ErrExternalService, c.retry.MaxAttempts, lastErr)
}

// Cost returns the accumulated estimated spend in dollars.
func (c *Client) Cost() float64 {
	if c.meter == nil {
		return 0
	}
	return c.meter.Cost()
}

// CostMeter accumulates an estimated dollar cost from token usage.
// Prices are per 1000 tokens. Observability only, never control flow.
type CostMeter struct {
	mu           sync.Mutex
	inputTokens  int
	outputTokens int

	inputPricePer1K  float64
	outputPricePer1K float64
}

// NewCostMeter creates a meter with per-1000-token prices.
func NewCostMeter(inputPricePer1K, outputPricePer1K float64) *CostMeter {
	return &CostMeter{inputPricePer1K: inputPricePer1K, outputPricePer1K: outputPricePer1K}
}

// Add records one call's usage.
func (m *CostMeter) Add(u Usage) {
	m.mu.Lock()
	m.inputTokens += u.InputTokens
	m.outputTokens += u.OutputTokens
	m.mu.Unlock()
}

// Tokens returns total input and output tokens seen so far.
func (m *CostMeter) Tokens() (in, out int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputTokens, m.outputTokens
}

// Cost returns the estimated dollar spend so far.
func (m *CostMeter) Cost() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.inputTokens)/1000*m.inputPricePer1K +
		float64(m.outputTokens)/1000*m.outputPricePer1K
}

// OpenAIBackend is the production Backend over an OpenAI-compatible API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend builds a backend for the given endpoint and model.
// BaseURL may be empty for the default endpoint.
func NewOpenAIBackend(apiKey, baseURL, model string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg), model: model}
}

// Complete implements Backend.
func (b *OpenAIBackend) Complete(ctx context.Context, msgs []Message, maxTokens int) (string, Usage, error) {
	req := openai.ChatCompletionRequest{
		Model:     b.model,
		MaxTokens: maxTokens,
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("chat completion: %w", err)
	}
	usage := Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	if len(resp.Choices) == 0 {
		return "", usage, fmt.Errorf("backend returned no choices")
	}
	return resp.Choices[0].Message.Content, usage, nil
}
