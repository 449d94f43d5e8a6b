package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mschirtzinger/tracksync/internal/engine"
	"github.com/mschirtzinger/tracksync/internal/loadtest"
	"github.com/mschirtzinger/tracksync/internal/ui"
	"github.com/spf13/cobra"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "sync",
	Short:   "Drive concurrent operations and report latency",
	Long: `Run a concurrent workload through the operation layer and report
per-operation latency percentiles.

Every simulated user creates projects, then adds subtasks, comments and
status changes to them. Afterwards the cache is checked against the store.

Use the memory driver unless you mean to write test projects into MongoDB.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lc := loadtest.Config{Seed: 42}
		lc.Users, _ = cmd.Flags().GetInt("users")
		lc.ProjectsPerUser, _ = cmd.Flags().GetInt("projects")
		lc.StepsPerProject, _ = cmd.Flags().GetInt("steps")

		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			fmt.Printf("%s Running %d users x %d projects x %d steps against the %s store...\n\n",
				ui.RenderAccent("⏱"), lc.Users, lc.ProjectsPerUser, lc.StepsPerProject, cfg.Store.Driver)

			res, err := loadtest.Run(ctx, e, lc)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}
			res.PrintStats(os.Stdout)

			if err := loadtest.VerifyConsistency(ctx, e, res); err != nil {
				fmt.Printf("\n%s %v\n", ui.RenderFail("✗"), err)
				return err
			}
			fmt.Printf("\n%s Cache consistent with store\n", ui.RenderPass("✓"))
			return nil
		})
	},
}

func init() {
	loadtestCmd.Flags().Int("users", 10, "concurrent simulated users")
	loadtestCmd.Flags().Int("projects", 5, "projects per user")
	loadtestCmd.Flags().Int("steps", 10, "operations per project after creation")
	rootCmd.AddCommand(loadtestCmd)
}
