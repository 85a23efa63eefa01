package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/macrosim/internal/econ"
	"github.com/talgya/macrosim/internal/policy"
)

// CollectDecisions produces every agent's decision for the current
// observations in parallel. Decisions within a timestep are independent,
// so worker order does not matter; the pool is bounded to keep the
// external backend healthy. Policy-level failures never surface here;
// the policy substitutes its own default, so the only error source is
// context cancellation.
func (s *Simulation) CollectDecisions(ctx context.Context, obs map[string]policy.Observation) (map[string]econ.Decision, error) {
	var mu sync.Mutex
	actions := make(map[string]econ.Decision, len(s.agents))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.params.Concurrency)

	for _, a := range s.agents {
		key := Key(a.ID)
		o := obs[key]
		g.Go(func() error {
			dec, err := s.pol.Decide(ctx, o)
			if err != nil {
				return fmt.Errorf("decide agent %s: %w", key, err)
			}
			mu.Lock()
			actions[key] = dec
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return actions, nil
}

// RunEpisode resets and drives a fresh episode to termination.
// The optional checkpoint hook runs after every step that lands.
func (s *Simulation) RunEpisode(ctx context.Context, checkpoint func(step int) error) error {
	if _, err := s.Reset(); err != nil {
		return err
	}
	return s.ResumeEpisode(ctx, checkpoint)
}

// ResumeEpisode drives the episode forward from its current state, fresh
// or restored from a snapshot. There is no mid-timestep cancellation;
// ctx is honored between steps.
func (s *Simulation) ResumeEpisode(ctx context.Context, checkpoint func(step int) error) error {
	obs := s.Observations()

	for !s.done {
		select {
		case <-ctx.Done():
			slog.Info("episode interrupted", "step", s.step)
			return ctx.Err()
		default:
		}

		actions, err := s.CollectDecisions(ctx, obs)
		if err != nil {
			return err
		}

		var info map[string]any
		obs, _, _, info, err = s.Step(actions)
		if err != nil {
			return err
		}

		slog.Info("monthly report",
			"step", info["step"],
			"price", fmt.Sprintf("%.3f", info["price"]),
			"wage", fmt.Sprintf("%.3f", info["wage"]),
			"interest_rate", fmt.Sprintf("%.4f", info["interest_rate"]),
			"employment", fmt.Sprintf("%.2f", info["employment_rate"]),
			"total_tax", fmt.Sprintf("%.2f", info["total_tax"]),
			"lump_sum", fmt.Sprintf("%.2f", info["lump_sum"]),
			"defaulted", info["defaulted"],
		)

		if checkpoint != nil {
			if err := checkpoint(s.step); err != nil {
				return fmt.Errorf("checkpoint at step %d: %w", s.step, err)
			}
		}
	}

	slog.Info("episode complete",
		"steps", s.step,
		"defaulted_decisions", s.Defaulted(),
	)
	return nil
}
