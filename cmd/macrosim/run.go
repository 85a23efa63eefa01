package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/talgya/macrosim/internal/agent"
	"github.com/talgya/macrosim/internal/config"
	"github.com/talgya/macrosim/internal/llm"
	"github.com/talgya/macrosim/internal/market"
	"github.com/talgya/macrosim/internal/persistence"
	"github.com/talgya/macrosim/internal/policy"
	"github.com/talgya/macrosim/internal/sim"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		dbPath     string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an episode, resuming from the database when one is saved",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level: level,
			})))

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runEpisode(cfg, dbPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to JSON config (defaults apply when omitted)")
	cmd.Flags().StringVar(&dbPath, "db", "data/episode.db", "path to the episode database")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func runEpisode(cfg config.Config, dbPath string) error {
	if dir := filepath.Dir(dbPath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	db, err := persistence.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	schedule, err := cfg.Schedule()
	if err != nil {
		return err
	}

	// Restore a saved episode, or generate a fresh one.
	step, agents, mkt, resumed, err := db.LatestSnapshot(cfg.MarketParams())
	if err != nil {
		return err
	}
	if resumed {
		runID, _, _, _, err := db.Episode()
		if err != nil {
			return err
		}
		slog.Info("resuming saved episode", "run_id", runID, "step", step, "agents", len(agents))
	} else {
		agents, err = agent.NewPopulation(cfg.PopulationConfig())
		if err != nil {
			return err
		}
		runID := uuid.NewString()
		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		if err := db.InitEpisode(runID, cfg.Seed, cfgJSON); err != nil {
			return err
		}
		slog.Info("starting fresh episode",
			"run_id", runID,
			"agents", len(agents),
			"months", cfg.EpisodeLength,
			"policy", cfg.Policy,
		)
	}
	if mkt == nil {
		mkt, err = market.New(cfg.MarketParams())
		if err != nil {
			return err
		}
	}

	pol, meter, err := buildPolicy(cfg, agents)
	if err != nil {
		return err
	}
	if resumed {
		if gen, ok := pol.(*policy.GenerativePolicy); ok {
			histories, err := db.LoadConversations()
			if err != nil {
				return err
			}
			gen.RestoreHistories(histories)
		}
	}

	drift := agent.NewSkillDrift(cfg.Seed, cfg.SkillDriftAmplitude, cfg.SkillDriftFrequency, cfg.SkillDriftEnabled)
	s, err := sim.New(cfg.SimParams(), agents, mkt, schedule, pol, drift, cfg.Seed)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checkpoint := func(stepDone int) error {
		if rec, ok := s.Log().At(s.Log().Len() - 1); ok {
			if err := db.SaveStepRecord(rec); err != nil {
				return err
			}
		}
		if stepDone%cfg.CheckpointEvery != 0 && stepDone != cfg.EpisodeLength {
			return nil
		}
		if err := db.SaveSnapshot(stepDone, s.Agents(), s.Market()); err != nil {
			return err
		}
		if gen, ok := pol.(*policy.GenerativePolicy); ok {
			if err := db.SaveConversations(gen.Histories()); err != nil {
				return err
			}
		}
		if meter != nil {
			in, out := meter.Tokens()
			slog.Info("running backend usage",
				"step", stepDone,
				"input_tokens", in,
				"output_tokens", out,
				"estimated_cost", fmt.Sprintf("$%.4f", meter.Cost()),
			)
		}
		slog.Debug("checkpoint saved", "step", stepDone)
		return nil
	}

	if resumed {
		s.RestoreStep(step)
		err = s.ResumeEpisode(ctx, checkpoint)
	} else {
		err = s.RunEpisode(ctx, checkpoint)
	}
	if err != nil {
		if ctx.Err() == nil {
			return err
		}
		slog.Info("interrupted, saving state", "step", s.CurrentStep())
	}

	// Final save, including on interrupt.
	if saveErr := db.SaveSnapshot(s.CurrentStep(), s.Agents(), s.Market()); saveErr != nil {
		slog.Error("final save failed", "error", saveErr)
	}

	if meter != nil {
		in, out := meter.Tokens()
		slog.Info("backend usage",
			"input_tokens", in,
			"output_tokens", out,
			"estimated_cost", fmt.Sprintf("$%.4f", meter.Cost()),
		)
	}
	slog.Info("run finished",
		"step", s.CurrentStep(),
		"defaulted_decisions", s.Defaulted(),
		"price", fmt.Sprintf("%.3f", s.Market().Price()),
		"wage", fmt.Sprintf("%.3f", s.Market().Wage()),
	)
	return nil
}

func buildPolicy(cfg config.Config, agents []*agent.Agent) (policy.Policy, *llm.CostMeter, error) {
	switch cfg.Policy {
	case "generative":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, nil, fmt.Errorf("OPENAI_API_KEY not set; required for the generative policy")
		}
		meter := llm.NewCostMeter(cfg.InputPricePer1K, cfg.OutputPricePer1K)
		backend := llm.NewOpenAIBackend(apiKey, cfg.BaseURL, cfg.Model)
		client, err := llm.NewClient(backend, llm.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     cfg.Backoff(),
		}, meter)
		if err != nil {
			return nil, nil, err
		}
		return policy.NewGenerativePolicy(client, cfg.MaxTokens), meter, nil
	default:
		return policy.NewRulePolicy(cfg.Seed, cfg.ConsumptionGrid, agents), nil, nil
	}
}
