package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and manage a single job",
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show job status",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobStatus,
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending job or discard a finished one",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobCancel,
}

var jobFetchCmd = &cobra.Command{
	Use:   "fetch <id>",
	Short: "Download a completed job's file",
	Long: `Stream the finished file into the output directory.

The server discards the file once it has been delivered in full.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobFetch,
}

var jobEventsCmd = &cobra.Command{
	Use:   "events <id>",
	Short: "Show a job's lifecycle history",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobEvents,
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobStatusCmd, jobCancelCmd, jobFetchCmd, jobEventsCmd)
	jobFetchCmd.Flags().StringP("output", "o", ".", "Output directory")
}

func runJobStatus(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL)
	j, err := client.Job(args[0])
	if err != nil {
		return fmt.Errorf("job status failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		printJSON(out, j)
		return nil
	}

	printJob(out, j, time.Now())
	return nil
}

func printJob(out io.Writer, j *JobResponse, now time.Time) {
	_, _ = fmt.Fprintf(out, "Job:      %s\n", j.JobID)
	_, _ = fmt.Fprintf(out, "URL:      %s\n", j.URL)
	if j.FormatID != "" {
		_, _ = fmt.Fprintf(out, "Format:   %s\n", j.FormatID)
	}
	_, _ = fmt.Fprintf(out, "Status:   %s\n", j.Status)
	if j.Title != "" {
		_, _ = fmt.Fprintf(out, "Title:    %s\n", j.Title)
	}
	if j.Filename != "" {
		_, _ = fmt.Fprintf(out, "File:     %s\n", j.Filename)
	}
	if j.Error != "" {
		_, _ = fmt.Fprintf(out, "Error:    %s (%s)\n", j.Error, j.ErrorKind)
	}
	_, _ = fmt.Fprintf(out, "Created:  %s\n", formatAge(j.CreatedAt, now))
	if j.StartedAt != nil && j.FinishedAt != nil {
		_, _ = fmt.Fprintf(out, "Took:     %s\n", j.FinishedAt.Sub(*j.StartedAt).Round(time.Second))
	}
}

func runJobCancel(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL)
	if err := client.Cancel(args[0]); err != nil {
		return fmt.Errorf("cancel failed: %w", err)
	}
	if !jsonOutput {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Job %s discarded\n", args[0])
	}
	return nil
}

func runJobFetch(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	return fetchJob(cmd, NewClient(serverURL), args[0], output)
}

func fetchJob(cmd *cobra.Command, client *Client, id, dir string) error {
	path, err := client.Fetch(cmd.Context(), id, dir)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		printJSON(out, map[string]string{"job_id": id, "path": path})
		return nil
	}
	_, _ = fmt.Fprintf(out, "Saved %s\n", path)
	return nil
}

func runJobEvents(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL)
	events, err := client.Events(args[0])
	if err != nil {
		return fmt.Errorf("events failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		printJSON(out, events)
		return nil
	}

	if len(events.Items) == 0 {
		_, _ = fmt.Fprintln(out, "No events recorded")
		return nil
	}
	for _, e := range events.Items {
		line := fmt.Sprintf("%s  %-20s", e.OccurredAt, e.EventType)
		if e.To != "" {
			line += fmt.Sprintf("  %s -> %s", e.From, e.To)
		}
		if e.Reason != "" {
			line += "  (" + e.Reason + ")"
		}
		if e.Error != "" {
			line += "  " + e.Error
		}
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}
