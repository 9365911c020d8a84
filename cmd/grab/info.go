package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <url>",
	Short: "Show title and available formats for a URL",
	Long: `Probe a media URL and list the formats it can be downloaded in.

Examples:
  grab info https://www.youtube.com/watch?v=dQw4w9WgXcQ
  grab info --sort quality https://vimeo.com/76979871`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().String("sort", "", "Format order: quality ranks best first")
}

func runInfo(cmd *cobra.Command, args []string) error {
	sort, _ := cmd.Flags().GetString("sort")

	client := NewClient(serverURL)
	info, err := client.Info(args[0], sort)
	if err != nil {
		return fmt.Errorf("info failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		printJSON(out, info)
		return nil
	}

	printInfo(out, info)
	return nil
}

func printInfo(out io.Writer, info *InfoResponse) {
	_, _ = fmt.Fprintf(out, "Title:     %s\n", info.Title)
	if info.Duration != nil {
		_, _ = fmt.Fprintf(out, "Duration:  %s\n", formatDuration(*info.Duration))
	}
	if info.Thumbnail != "" {
		_, _ = fmt.Fprintf(out, "Thumbnail: %s\n", info.Thumbnail)
	}
	_, _ = fmt.Fprintln(out)

	if len(info.Formats) == 0 {
		_, _ = fmt.Fprintln(out, "No formats reported")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tEXT\tRESOLUTION\tSIZE\tVCODEC\tACODEC\tNOTE")
	for _, f := range info.Formats {
		size := "-"
		if f.Filesize != nil {
			size = formatSize(*f.Filesize)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			f.FormatID, f.Ext, orDash(f.Resolution), size, f.VCodec, f.ACodec, orDash(f.Note))
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(out, "\n%d formats\n", len(info.Formats))
}
