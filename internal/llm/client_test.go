package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/macrosim/internal/econ"
)

// fakeBackend fails a fixed number of times before succeeding.
type fakeBackend struct {
	failures int
	calls    int
	reply    string
}

func (f *fakeBackend) Complete(_ context.Context, _ []Message, _ int) (string, Usage, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", Usage{}, fmt.Errorf("transient failure %d", f.calls)
	}
	return f.reply, Usage{InputTokens: 100, OutputTokens: 20}, nil
}

func TestClient_RetriesThenSucceeds(t *testing.T) {
	backend := &fakeBackend{failures: 2, reply: `{"work": 1, "consumption": 0.3}`}
	c, err := NewClient(backend, RetryPolicy{MaxAttempts: 3, Backoff: 0}, nil)
	require.NoError(t, err)

	text, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, 64)
	require.NoError(t, err)
	assert.Equal(t, backend.reply, text)
	assert.Equal(t, 3, backend.calls)
}

func TestClient_ExhaustedBudgetIsExternalServiceError(t *testing.T) {
	backend := &fakeBackend{failures: 10}
	c, err := NewClient(backend, RetryPolicy{MaxAttempts: 3, Backoff: 0}, nil)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), nil, 64)
	require.Error(t, err)
	assert.ErrorIs(t, err, econ.ErrExternalService)
	assert.Equal(t, 3, backend.calls)
}

func TestNewClient_RejectsEmptyBudget(t *testing.T) {
	_, err := NewClient(&fakeBackend{}, RetryPolicy{MaxAttempts: 0}, nil)
	assert.ErrorIs(t, err, econ.ErrConfiguration)
}

func TestCostMeter_AccumulatesAcrossCalls(t *testing.T) {
	meter := NewCostMeter(0.5, 1.5) // $/1K tokens
	backend := &fakeBackend{reply: "ok"}
	c, err := NewClient(backend, RetryPolicy{MaxAttempts: 1}, meter)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := c.Complete(context.Background(), nil, 64)
		require.NoError(t, err)
	}

	in, out := meter.Tokens()
	assert.Equal(t, 400, in)
	assert.Equal(t, 80, out)
	assert.InDelta(t, 0.4*0.5+0.08*1.5, c.Cost(), 1e-9)
}
