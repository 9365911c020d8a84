package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs",
	Long: `List jobs known to the server, oldest first.

Examples:
  grab jobs
  grab jobs -s failed`,
	Args: cobra.NoArgs,
	RunE: runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.Flags().StringP("status", "s", "", "Filter by status (pending, probing, downloading, completed, failed, expired)")
}

func runJobs(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetString("status")

	client := NewClient(serverURL)
	jobs, err := client.Jobs(status)
	if err != nil {
		return fmt.Errorf("list jobs failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		printJSON(out, jobs)
		return nil
	}

	printJobs(out, jobs, time.Now())
	return nil
}

func printJobs(out io.Writer, jobs *ListJobsResponse, now time.Time) {
	if len(jobs.Items) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSTATUS\tTITLE\tCREATED")
	for _, j := range jobs.Items {
		title := j.Title
		if title == "" {
			title = j.URL
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.JobID, j.Status, truncate(title, 50), formatAge(j.CreatedAt, now))
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(out, "\n%d jobs\n", jobs.Total)
}
