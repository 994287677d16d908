package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	schemaPath string
)

var rootCmd = &cobra.Command{
	Use:   "pushramp",
	Short: "Pushgateway load-ramp experiment runner",
	Long:  "pushramp ramps synthetic push load against a Pushgateway deployment and records how it holds up.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/pushramp.yaml", "Path to runner configuration YAML")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "schemas/pushramp.cue", "Path to CUE schema file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(suiteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(watchCmd)
}
