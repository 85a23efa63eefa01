package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/talgya/macrosim/internal/config"
	"github.com/talgya/macrosim/internal/persistence"
)

func newInspectCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize a saved episode database",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := persistence.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()
			return inspect(cmd, db)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "data/episode.db", "path to the episode database")
	return cmd
}

func inspect(cmd *cobra.Command, db *persistence.DB) error {
	runID, seed, cfgJSON, ok, err := db.Episode()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no episode saved in this database")
	}
	cmd.Printf("run:  %s (seed %d)\n", runID, seed)

	cfg := config.Default()
	if err := json.Unmarshal(cfgJSON, &cfg); err != nil {
		return fmt.Errorf("parse saved config: %w", err)
	}

	step, agents, mkt, ok, err := db.LatestSnapshot(cfg.MarketParams())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("episode has no snapshots yet")
	}

	cmd.Printf("step: %d\n", step)
	cmd.Printf("price: %.3f  wage: %.3f  interest: %.4f\n", mkt.Price(), mkt.Wage(), mkt.InterestRate())

	wealths := make([]float64, 0, len(agents))
	total := 0.0
	employed := 0
	for _, a := range agents {
		wealths = append(wealths, a.Wealth)
		total += a.Wealth
		if a.Employed {
			employed++
		}
	}
	sort.Float64s(wealths)

	n := len(agents)
	cmd.Printf("agents: %d  employed: %d\n", n, employed)
	cmd.Printf("wealth: total %.2f  median %.2f  p10 %.2f  p90 %.2f\n",
		total, quantile(wealths, 0.5), quantile(wealths, 0.1), quantile(wealths, 0.9))

	records, err := db.StepRecords(0, step)
	if err != nil {
		return err
	}
	cmd.Printf("dense log: %d recorded steps\n", len(records))
	return nil
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	i := int(q * float64(len(sorted)-1))
	return sorted[i]
}
