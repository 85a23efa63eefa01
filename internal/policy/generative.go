package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/talgya/macrosim/internal/econ"
	"github.com/talgya/macrosim/internal/llm"
)

// History bounds: decisions see the most recent exchanges only; the
// periodic reflection looks further back.
const (
	decisionWindow   = 3
	reflectionWindow = 7
	reflectionEvery  = 3
)

// Completer is the slice of the llm client the policy needs.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message, maxTokens int) (string, error)
}

// Exchange is one user prompt and the model's reply.
type Exchange struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// GenerativePolicy asks a text-generation backend for each decision.
// Any parse, range, or exhausted-retry failure yields the safe default
// decision and bumps the defaulted counter; it never fails the timestep.
type GenerativePolicy struct {
	client    Completer
	maxTokens int

	mu        sync.Mutex
	histories map[int][]Exchange

	defaulted atomic.Int64
}

// NewGenerativePolicy builds the generative variant.
func NewGenerativePolicy(client Completer, maxTokens int) *GenerativePolicy {
	return &GenerativePolicy{
		client:    client,
		maxTokens: maxTokens,
		histories: make(map[int][]Exchange),
	}
}

// Decide implements Policy.
func (p *GenerativePolicy) Decide(ctx context.Context, obs Observation) (econ.Decision, error) {
	if obs.Step > 0 && obs.Step%reflectionEvery == 0 {
		p.reflect(ctx, obs)
	}

	prompt := BuildDecisionPrompt(obs)
	msgs := p.conversation(obs, prompt, decisionWindow)

	response, err := p.client.Complete(ctx, msgs, p.maxTokens)
	if err != nil {
		// Exhausted retry budget: substitute, count, continue.
		slog.Warn("decision call failed, substituting default",
			"agent", obs.AgentID, "step", obs.Step, "error", err)
		p.defaulted.Add(1)
		return econ.DefaultDecision(), nil
	}
	p.appendExchange(obs.AgentID, Exchange{Prompt: prompt, Response: response})

	dec, err := ParseDecision(response)
	if err != nil {
		slog.Warn("unusable decision response, substituting default",
			"agent", obs.AgentID, "step", obs.Step, "error", err)
		p.defaulted.Add(1)
		return econ.DefaultDecision(), nil
	}
	return dec, nil
}

// Defaulted implements Policy.
func (p *GenerativePolicy) Defaulted() int { return int(p.defaulted.Load()) }

// Histories returns a copy of every agent's conversation history for
// checkpointing.
func (p *GenerativePolicy) Histories() map[int][]Exchange {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int][]Exchange, len(p.histories))
	for id, h := range p.histories {
		out[id] = append([]Exchange(nil), h...)
	}
	return out
}

// RestoreHistories replaces all conversation histories from a checkpoint.
func (p *GenerativePolicy) RestoreHistories(h map[int][]Exchange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.histories = make(map[int][]Exchange, len(h))
	for id, hist := range h {
		p.histories[id] = append([]Exchange(nil), hist...)
	}
}

// reflect runs the periodic look-back over the longer history window.
// The reply joins the history as color for future decisions; it is not
// parsed as a decision, and its failure is not a defaulted decision.
func (p *GenerativePolicy) reflect(ctx context.Context, obs Observation) {
	prompt := BuildReflectionPrompt(obs)
	msgs := p.conversation(obs, prompt, reflectionWindow)

	response, err := p.client.Complete(ctx, msgs, p.maxTokens)
	if err != nil {
		slog.Debug("reflection call failed", "agent", obs.AgentID, "step", obs.Step, "error", err)
		return
	}
	p.appendExchange(obs.AgentID, Exchange{Prompt: prompt, Response: response})
}

// conversation assembles system prompt + bounded history + the new prompt.
func (p *GenerativePolicy) conversation(obs Observation, prompt string, window int) []llm.Message {
	p.mu.Lock()
	hist := p.histories[obs.AgentID]
	if len(hist) > window {
		hist = hist[len(hist)-window:]
	}
	hist = append([]Exchange(nil), hist...)
	p.mu.Unlock()

	msgs := []llm.Message{{Role: "system", Content: BuildSystemPrompt(obs)}}
	for _, ex := range hist {
		msgs = append(msgs,
			llm.Message{Role: "user", Content: ex.Prompt},
			llm.Message{Role: "assistant", Content: ex.Response},
		)
	}
	return append(msgs, llm.Message{Role: "user", Content: prompt})
}

func (p *GenerativePolicy) appendExchange(agentID int, ex Exchange) {
	p.mu.Lock()
	h := append(p.histories[agentID], ex)
	// Keep only what any window can see.
	if len(h) > reflectionWindow {
		h = h[len(h)-reflectionWindow:]
	}
	p.histories[agentID] = h
	p.mu.Unlock()
}

// ParseDecision extracts the two-field record from a model response.
// The response may wrap the JSON in prose; the first {...} span is used.
// Work is accepted anywhere in [0,1] and rounded onto {0,1}.
func ParseDecision(response string) (econ.Decision, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return econ.Decision{}, fmt.Errorf("%w: no JSON object in response", econ.ErrInvalidDecision)
	}

	var raw struct {
		Work        *float64 `json:"work"`
		Consumption *float64 `json:"consumption"`
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), &raw); err != nil {
		return econ.Decision{}, fmt.Errorf("%w: %v", econ.ErrInvalidDecision, err)
	}
	if raw.Work == nil || raw.Consumption == nil {
		return econ.Decision{}, fmt.Errorf("%w: missing work or consumption field", econ.ErrInvalidDecision)
	}
	if *raw.Work < 0 || *raw.Work > 1 || *raw.Consumption < 0 || *raw.Consumption > 1 {
		return econ.Decision{}, fmt.Errorf("%w: work=%g consumption=%g", econ.ErrInvalidDecision, *raw.Work, *raw.Consumption)
	}

	return econ.Decision{
		Work:            int(math.Round(*raw.Work)),
		ConsumptionFrac: *raw.Consumption,
	}, nil
}
