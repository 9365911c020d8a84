package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	serverURL  string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "grab",
	Short: "CLI client for the grabbr download service",
	Long: `grab - CLI client for the grabbr download service

Inspect media URLs, submit download jobs, follow their progress
and fetch the finished files.

Run 'grabd' to start the server daemon.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	defaultServer := "http://localhost:5001"
	if env := os.Getenv("GRABBR_SERVER"); env != "" {
		defaultServer = env
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "Server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate("grab {{.Version}}\n")
}
