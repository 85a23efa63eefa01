package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/macrosim/internal/agent"
	"github.com/talgya/macrosim/internal/econ"
	"github.com/talgya/macrosim/internal/market"
	"github.com/talgya/macrosim/internal/policy"
	"github.com/talgya/macrosim/internal/sim"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "episode.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testMarketParams() market.Params {
	return market.Params{
		InitialPrice: 100, InitialWage: 1, InterestRate: 0.03,
		MaxPriceInflation: 0.1, MaxWageInflation: 0.05,
		PriceAdjustment: 0.2, WageAdjustment: 0.1, TargetEmployment: 0.96,
		RateRule: "fixed",
	}
}

func TestEpisode_RoundTrip(t *testing.T) {
	db := openTestDB(t)

	_, _, _, ok, err := db.Episode()
	require.NoError(t, err)
	assert.False(t, ok, "fresh database has no episode")

	require.NoError(t, db.InitEpisode("run-123", 42, []byte(`{"population":5}`)))
	runID, seed, cfg, ok, err := db.Episode()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-123", runID)
	assert.Equal(t, int64(42), seed)
	assert.JSONEq(t, `{"population":5}`, string(cfg))
}

func TestSnapshot_RoundTripRestoresMarketAndAgents(t *testing.T) {
	db := openTestDB(t)

	m, err := market.New(testMarketParams())
	require.NoError(t, err)
	m.UpdatePrice(10, 1) // capped +10%
	m.UpdateWage(0.5)
	m.AdvanceStep()

	agents := []*agent.Agent{
		{ID: 0, Profile: agent.Profile{Name: "Ava Reyes", Age: 30, Job: "nurse"},
			Skill: 1.2, Wealth: 900, Income: 1200, LastIncome: 1100, Employed: true},
		{ID: 1, Profile: agent.Profile{Name: "Noah Berg", Age: 44, Job: "machinist"},
			Skill: 0.8, Wealth: 300, OfferedJob: "line cook"},
	}
	require.NoError(t, db.SaveSnapshot(1, agents, m))

	step, restoredAgents, restoredMarket, ok, err := db.LatestSnapshot(testMarketParams())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, step)
	require.Len(t, restoredAgents, 2)
	assert.Equal(t, *agents[0], *restoredAgents[0])
	assert.Equal(t, *agents[1], *restoredAgents[1])
	assert.InDelta(t, m.Price(), restoredMarket.Price(), 1e-12)
	assert.InDelta(t, m.Wage(), restoredMarket.Wage(), 1e-12)
	assert.Equal(t, 1, restoredMarket.Step())

	last, err := db.GetMeta("last_step")
	require.NoError(t, err)
	assert.Equal(t, "1", last)
}

func TestLatestSnapshot_EmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	_, _, _, ok, err := db.LatestSnapshot(testMarketParams())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStepRecords_RoundTrip(t *testing.T) {
	db := openTestDB(t)

	rec := sim.StepRecord{
		Step: 3,
		Observations: map[string]policy.Observation{
			"0":            {AgentID: 0, Step: 3, Wealth: 500, Price: 101.5},
			sim.PlannerKey: {AgentID: -1, Step: 3, Extra: map[string]float64{"total_tax": 88}},
		},
		Actions: map[string]econ.Decision{
			"0": {Work: 1, ConsumptionFrac: 0.42},
		},
		Rewards:      map[string]float64{"0": 1.7, sim.PlannerKey: 0},
		Terminations: map[string]bool{"0": false, sim.PlannerKey: false},
	}
	require.NoError(t, db.SaveStepRecord(rec))

	got, err := db.StepRecords(0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.Step, got[0].Step)
	assert.Equal(t, rec.Actions, got[0].Actions)
	assert.InDelta(t, 1.7, got[0].Rewards["0"], 1e-12)
	assert.InDelta(t, 101.5, got[0].Observations["0"].Price, 1e-12)
	// The planner row has no action.
	_, hasPlannerAction := got[0].Actions[sim.PlannerKey]
	assert.False(t, hasPlannerAction)
}

func TestConversations_RoundTrip(t *testing.T) {
	db := openTestDB(t)

	histories := map[int][]policy.Exchange{
		0: {{Prompt: "month 1", Response: `{"work":1,"consumption":0.5}`}},
		2: {
			{Prompt: "month 1", Response: "a"},
			{Prompt: "month 2", Response: "b"},
		},
	}
	require.NoError(t, db.SaveConversations(histories))

	got, err := db.LoadConversations()
	require.NoError(t, err)
	assert.Equal(t, histories, got)

	// Saving again replaces, never appends.
	require.NoError(t, db.SaveConversations(map[int][]policy.Exchange{1: {{Prompt: "x", Response: "y"}}}))
	got, err = db.LoadConversations()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[1], 1)
}
