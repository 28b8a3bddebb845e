package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "convoy",
	Short: "Coordination engine for autonomous worker agents",
	Long: `Convoy schedules interdependent tasks across a pool of worker agents
and executes them against an external backend.

Core capabilities:
- Tracks task dependencies and releases work as it becomes ready
- Assigns tasks by capability, load, round-robin, or tag affinity
- Rebalances queued work between agents (work stealing)
- Isolates failing backend endpoints behind circuit breakers
- Bounds backend concurrency with a connection pool
- Checkpoints progress so an interrupted run can resume`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
