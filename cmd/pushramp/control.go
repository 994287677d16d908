package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pushramp/internal/detach"
	"pushramp/internal/runner"
	"pushramp/internal/scenario"
	"pushramp/internal/suite"
	"pushramp/internal/tui"
)

var (
	launchForeground bool
	statusWatch      bool
	fetchDest        string
	watchDest        string
	watchInterval    time.Duration
)

func newDetachController() (*detach.Controller, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return detach.NewController(newStore(cfg), cfg.Paths.ResultsDir, newLogger()), nil
}

var launchCmd = &cobra.Command{
	Use:   "launch <scenario-id|ALL>",
	Short: "Start a run detached from this terminal",
	Long:  "launch re-executes pushramp in its own session so the run survives the terminal. ALL launches the full suite.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		childArgs := []string{"run", id, "--config", configPath, "--schema", schemaPath}
		if id == detach.AllScenarios {
			childArgs = []string{"suite", "--config", configPath, "--schema", schemaPath}
		}
		if launchForeground {
			return runForeground(cmd, id)
		}
		ctl, err := newDetachController()
		if err != nil {
			return err
		}
		rec, err := ctl.Launch(cmd.Context(), id, childArgs)
		if err != nil {
			return err
		}
		fmt.Printf("launched %s (run %s, pid %d)\n", id, rec.RunID, rec.PID)
		return nil
	},
}

func runForeground(cmd *cobra.Command, id string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if id == detach.AllScenarios {
		run := func(ctx context.Context, spec scenario.Spec) (runner.Outcome, error) {
			return runScenario(ctx, cfg, spec, log)
		}
		seq := suite.New(run, loadController(cfg, log), newStore(cfg), cfg.Paths.ResultsDir, suite.Options{
			Settle:      cfg.Settle(),
			QualifyRate: cfg.StopRule.SuccessThreshold,
		}, log)
		_, err := seq.Run(ctx, scenario.IDs(), "", suiteIncludeSoak)
		return err
	}
	spec, err := scenario.Lookup(id)
	if err != nil {
		return err
	}
	_, err = runScenario(ctx, cfg, spec, log)
	return err
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the host's current run state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctl := detach.NewController(newStore(cfg), cfg.Paths.ResultsDir, newLogger())
		if statusWatch {
			return tui.Watch(ctl, cfg.Paths.ResultsDir, cfg.StopRule.SuccessThreshold)
		}
		st, err := ctl.Status()
		if err != nil {
			return err
		}
		switch st.State {
		case detach.StateRunning:
			fmt.Printf("running %s (pid %d) since %s\n", st.ScenarioID, st.PID, st.StartedAt.Format(time.RFC3339))
		case detach.StateFinished:
			fmt.Printf("finished %s (pid %d no longer running)\n", st.ScenarioID, st.PID)
		case detach.StateDone:
			fmt.Printf("done %s at %s\n", st.ScenarioID, st.FinishedAt.Format(time.RFC3339))
		default:
			fmt.Println("idle")
		}
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <scenario-id|ALL>",
	Short: "Tail the run's log until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := newDetachController()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return ctl.FollowLogs(ctx, args[0], os.Stdout)
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <scenario-id|ALL>",
	Short: "Copy result bundles to a local directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := newDetachController()
		if err != nil {
			return err
		}
		return ctl.FetchResults(args, fetchDest)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale run records and transient markers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := newDetachController()
		if err != nil {
			return err
		}
		return ctl.Cleanup()
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <scenario-id|ALL>",
	Short: "Wait for completion and archive the results once",
	Long:  "watch polls for the run's completion marker, then copies the result bundle to the archive directory exactly once and exits. Meant to run detached alongside a launched run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dest := watchDest
		if dest == "" {
			dest = cfg.Paths.ArchiveDir
		}
		if dest == "" {
			return fmt.Errorf("no archive destination: set --dest or paths.archive_dir")
		}
		w := detach.NewWatcher(cfg.Paths.ResultsDir, dest, watchInterval, newLogger())
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return w.Watch(ctx, args[0])
	},
}

func init() {
	launchCmd.Flags().BoolVar(&launchForeground, "foreground", false, "Run inline instead of detaching")
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "Live TUI view, refreshed every few seconds")
	fetchCmd.Flags().StringVar(&fetchDest, "dest", "pushramp-results", "Destination directory for fetched bundles")
	watchCmd.Flags().StringVar(&watchDest, "dest", "", "Archive destination (default: paths.archive_dir)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 30*time.Second, "Completion poll interval")
}
