package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate <scenario-id>",
	Short: "Run the push driver standalone",
	Long:  "generate drives the scenario's push fan-out without touching targets, the health monitor, or the metric poller. Useful for payload and endpoint checks.",
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

		driver, err := newDriver(cfg, spec, log)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return driver.Run(ctx)
	},
}
