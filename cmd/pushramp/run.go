package main

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pushramp/internal/runner"
	"pushramp/internal/scenario"
)

var runCmd = &cobra.Command{
	Use:   "run <scenario-id> | run soak <nodes> <duration>",
	Short: "Run one load scenario end to end",
	Long:  "run applies the scenario's node count, waits for target discovery, then drives pushes and polls backend metrics until the scenario duration elapses or the stop rule fires.",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := resolveRunArgs(args)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out, err := runScenario(ctx, cfg, spec, log)
		if err != nil {
			return err
		}
		if out.Status == runner.StatusStoppedEarly {
			return fmt.Errorf("scenario %s stopped early: %s", spec.ID, out.Reason)
		}
		return nil
	},
}

func resolveRunArgs(args []string) (scenario.Spec, error) {
	if args[0] != "soak" {
		if len(args) != 1 {
			return scenario.Spec{}, fmt.Errorf("run takes a single scenario id")
		}
		return scenario.Lookup(args[0])
	}
	if len(args) != 3 {
		return scenario.Spec{}, fmt.Errorf("usage: run soak <nodes> <duration>")
	}
	nodes, err := strconv.Atoi(args[1])
	if err != nil || nodes <= 0 {
		return scenario.Spec{}, fmt.Errorf("invalid node count %q", args[1])
	}
	dur, err := time.ParseDuration(args[2])
	if err != nil || dur <= 0 {
		return scenario.Spec{}, fmt.Errorf("invalid duration %q", args[2])
	}
	return scenario.Soak(nodes, dur), nil
}
