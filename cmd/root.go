// Package cmd wires the datapost CLI: the serve command runs the service,
// the jobs commands inspect the store offline, and doctor checks the
// environment.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datapost",
		Short: "Scheduled data-processing jobs with email delivery",
		Long: `datapost runs user-defined data jobs on cron schedules: it fetches
tabular input from an HTTP endpoint or an uploaded file, applies a
JavaScript transform, and emails the result as a CSV attachment.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(jobsCmd())
	cmd.AddCommand(doctorCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
