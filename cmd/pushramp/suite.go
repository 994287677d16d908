package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pushramp/internal/runner"
	"pushramp/internal/scenario"
	"pushramp/internal/suite"
)

var (
	suiteResumeFrom  string
	suiteIncludeSoak bool
	suiteScenarios   []string
)

var suiteCmd = &cobra.Command{
	Use:   "suite",
	Short: "Run the full scenario sequence",
	Long:  "suite runs every scenario in declared order, draining and settling between runs, and records per-scenario outcomes. Failures are logged and the sequence continues.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger()

		ids := suiteScenarios
		if len(ids) == 0 {
			ids = scenario.IDs()
		}

		run := func(ctx context.Context, spec scenario.Spec) (runner.Outcome, error) {
			return runScenario(ctx, cfg, spec, log)
		}
		seq := suite.New(run, loadController(cfg, log), newStore(cfg), cfg.Paths.ResultsDir, suite.Options{
			Settle:      cfg.Settle(),
			QualifyRate: cfg.StopRule.SuccessThreshold,
		}, log)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := seq.Run(ctx, ids, suiteResumeFrom, suiteIncludeSoak)
		for _, r := range res {
			log.Info("suite result", "scenario", r.ScenarioID, "status", r.Outcome.Status, "elapsed", r.Outcome.Elapsed)
		}
		return err
	},
}

func init() {
	suiteCmd.Flags().StringVar(&suiteResumeFrom, "resume", "", "Resume the sequence at this scenario id")
	suiteCmd.Flags().BoolVar(&suiteIncludeSoak, "include-soak", false, "Append a soak run at the largest passing size")
	suiteCmd.Flags().StringSliceVar(&suiteScenarios, "scenarios", nil, "Scenario ids to run (default: all)")
}
