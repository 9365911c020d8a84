package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var downloadCmd = &cobra.Command{
	Use:   "download <url>",
	Short: "Submit a download job",
	Long: `Queue a download on the server and print the job ID.

With --wait the command follows the job until it finishes. With --output
it also fetches the file into the given directory, after which the server
discards its copy.

Examples:
  grab download https://www.youtube.com/watch?v=dQw4w9WgXcQ
  grab download -f 22 --wait https://www.youtube.com/watch?v=dQw4w9WgXcQ
  grab download -o ~/Videos https://vimeo.com/76979871`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().StringP("format", "f", "", "Format ID (from 'grab info')")
	downloadCmd.Flags().Bool("wait", false, "Wait for the job to finish")
	downloadCmd.Flags().StringP("output", "o", "", "Fetch the file into this directory (implies --wait)")
	downloadCmd.Flags().Duration("poll", time.Second, "Polling interval while waiting")
}

func runDownload(cmd *cobra.Command, args []string) error {
	formatID, _ := cmd.Flags().GetString("format")
	wait, _ := cmd.Flags().GetBool("wait")
	output, _ := cmd.Flags().GetString("output")
	poll, _ := cmd.Flags().GetDuration("poll")

	client := NewClient(serverURL)
	sub, err := client.Submit(args[0], formatID)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if !wait && output == "" {
		if jsonOutput {
			printJSON(out, sub)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Queued job %s\n", sub.JobID)
		_, _ = fmt.Fprintf(out, "Follow with: grab job status %s\n", sub.JobID)
		return nil
	}

	if !jsonOutput {
		_, _ = fmt.Fprintf(out, "Queued job %s, waiting...\n", sub.JobID)
	}
	j, err := client.WaitJob(cmd.Context(), sub.JobID, poll)
	if err != nil {
		return fmt.Errorf("wait failed: %w", err)
	}
	if j.Status != "completed" {
		if jsonOutput {
			printJSON(out, j)
		}
		return fmt.Errorf("%w: %s (%s)", ErrJobFailed, j.Error, j.ErrorKind)
	}

	if output == "" {
		if jsonOutput {
			printJSON(out, j)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Completed: %s\n", j.Filename)
		_, _ = fmt.Fprintf(out, "Fetch with: grab job fetch %s\n", j.JobID)
		return nil
	}

	return fetchJob(cmd, client, j.JobID, output)
}
