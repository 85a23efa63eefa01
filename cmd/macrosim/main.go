// Command macrosim runs the agent-based macroeconomy simulation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "macrosim",
		Short: "Agent-based macroeconomy simulator with pluggable decision policies",
		Long: `macrosim simulates a one-period macroeconomy of autonomous agents who
decide monthly whether to work and how much to consume, under progressive
taxation with flat redistribution. Decisions come from closed-form economic
rules or from a text-generation backend.`,
		SilenceUsage: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newInspectCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
