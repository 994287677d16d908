package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pushramp/internal/scenario"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in scenarios",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tENDPOINT\tNODES\tJOBS\tDURATION\tPURPOSE")
		for _, s := range scenario.List() {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				s.ID, s.Endpoint, s.Nodes, s.Jobs, s.Duration, s.Purpose)
		}
		return w.Flush()
	},
}
