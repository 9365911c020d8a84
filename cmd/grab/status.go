package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Server health and worker pool usage",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// statusOrder lists job statuses in lifecycle order.
var statusOrder = []string{"pending", "probing", "downloading", "completed", "failed", "expired"}

func runStatus(cmd *cobra.Command, _ []string) error {
	client := NewClient(serverURL)
	status, err := client.Status()
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		printJSON(out, status)
		return nil
	}

	printStatus(out, serverURL, status)
	return nil
}

func printStatus(out io.Writer, server string, s *StatusResponse) {
	_, _ = fmt.Fprintf(out, "Server:   %s (%s)\n", server, s.Status)
	_, _ = fmt.Fprintf(out, "Workers:  %d/%d busy\n", s.Busy, s.Workers)
	_, _ = fmt.Fprintf(out, "Queue:    %d/%d\n\n", s.QueueDepth, s.QueueCapacity)

	_, _ = fmt.Fprintln(out, "Jobs")
	for _, st := range statusOrder {
		_, _ = fmt.Fprintf(out, "  %-12s %d\n", st+":", s.Counts[st])
	}
}
