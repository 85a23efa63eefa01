package policy

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/macrosim/internal/econ"
	"github.com/talgya/macrosim/internal/llm"
)

// scriptedCompleter replays canned responses and records conversations.
type scriptedCompleter struct {
	responses []string
	err       error
	calls     [][]llm.Message
}

func (s *scriptedCompleter) Complete(_ context.Context, msgs []llm.Message, _ int) (string, error) {
	s.calls = append(s.calls, msgs)
	if s.err != nil {
		return "", s.err
	}
	i := len(s.calls) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func genObs(id, step int) Observation {
	obs := Observation{
		AgentID: id, Step: step,
		Name: "Ava Reyes", Age: 34, City: "Riverton", Job: "machinist",
		Wealth: 1200, Income: 900, LastIncome: 850,
		Price: 100, InterestRate: 0.03, HourlyWage: 7.25,
	}
	return obs
}

func TestGenerative_ParsesWellFormedResponse(t *testing.T) {
	c := &scriptedCompleter{responses: []string{`Sure. {"work": 1, "consumption": 0.35}`}}
	p := NewGenerativePolicy(c, 64)

	dec, err := p.Decide(context.Background(), genObs(0, 1))
	require.NoError(t, err)
	assert.Equal(t, econ.Decision{Work: 1, ConsumptionFrac: 0.35}, dec)
	assert.Zero(t, p.Defaulted())
}

func TestGenerative_MalformedResponsesDefault(t *testing.T) {
	cases := []struct {
		name     string
		response string
	}{
		{"no json", "I will work hard this month."},
		{"broken json", `{"work": 1, "consumption": }`},
		{"missing field", `{"work": 1}`},
		{"work out of range", `{"work": 3, "consumption": 0.5}`},
		{"consumption out of range", `{"work": 1, "consumption": 1.7}`},
		{"negative consumption", `{"work": 0, "consumption": -0.2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &scriptedCompleter{responses: []string{tc.response}}
			p := NewGenerativePolicy(c, 64)

			dec, err := p.Decide(context.Background(), genObs(0, 1))
			require.NoError(t, err, "malformed responses must not surface errors")
			assert.Equal(t, econ.DefaultDecision(), dec)
			assert.Equal(t, 1, p.Defaulted(), "exactly one substitution per failure")
		})
	}
}

func TestGenerative_ServiceFailureDefaults(t *testing.T) {
	c := &scriptedCompleter{err: fmt.Errorf("%w: gave up", econ.ErrExternalService)}
	p := NewGenerativePolicy(c, 64)

	dec, err := p.Decide(context.Background(), genObs(0, 1))
	require.NoError(t, err)
	assert.Equal(t, econ.DefaultDecision(), dec)
	assert.Equal(t, 1, p.Defaulted())
}

func TestGenerative_HistoryBoundedToRecentExchanges(t *testing.T) {
	c := &scriptedCompleter{responses: []string{`{"work": 1, "consumption": 0.5}`}}
	p := NewGenerativePolicy(c, 64)

	// Steps 1,2,4,5,7,8 avoid the reflection cadence.
	for _, step := range []int{1, 2, 4, 5, 7, 8} {
		_, err := p.Decide(context.Background(), genObs(0, step))
		require.NoError(t, err)
	}

	last := c.calls[len(c.calls)-1]
	// system + 3 retained exchanges (user+assistant each) + new user prompt.
	assert.Len(t, last, 1+decisionWindow*2+1)
	assert.Equal(t, "system", last[0].Role)
	assert.Equal(t, "user", last[len(last)-1].Role)
}

func TestGenerative_ReflectionEveryThirdStep(t *testing.T) {
	c := &scriptedCompleter{responses: []string{`{"work": 0, "consumption": 0.4}`}}
	p := NewGenerativePolicy(c, 64)

	_, err := p.Decide(context.Background(), genObs(2, 3))
	require.NoError(t, err)

	// One reflection call plus one decision call.
	require.Len(t, c.calls, 2)
	reflection := c.calls[0][len(c.calls[0])-1].Content
	assert.Contains(t, reflection, "look back")

	// The reflection reply must not be parsed as a decision.
	assert.Zero(t, p.Defaulted())
}

func TestGenerative_HistoriesRoundTrip(t *testing.T) {
	c := &scriptedCompleter{responses: []string{`{"work": 1, "consumption": 0.5}`}}
	p := NewGenerativePolicy(c, 64)
	for _, step := range []int{1, 2} {
		_, err := p.Decide(context.Background(), genObs(4, step))
		require.NoError(t, err)
	}

	saved := p.Histories()
	require.Len(t, saved[4], 2)

	q := NewGenerativePolicy(c, 64)
	q.RestoreHistories(saved)
	assert.Equal(t, saved, q.Histories())
}

func TestBuildDecisionPrompt_MentionsOfferWhenUnemployed(t *testing.T) {
	obs := genObs(0, 2)
	obs.Employed = false
	obs.OfferedJob = "electrician"
	prompt := BuildDecisionPrompt(obs)
	assert.Contains(t, prompt, "electrician")
	assert.True(t, strings.Contains(prompt, "unemployed"))
}
