package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/spf13/cobra"
	"github.com/vmunix/grabbr/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configTestCmd = &cobra.Command{
	Use:   "test [path]",
	Short: "Validate configuration file",
	Long:  "Validates config.toml syntax, required fields, and environment variable substitution without starting the server.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigTest,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write an example configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configTestCmd, configInitCmd)
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
}

func configPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if path, err := config.Discover(); err == nil {
		return path
	}
	return config.DefaultPath()
}

func runConfigTest(cmd *cobra.Command, args []string) error {
	path := configPath(args)
	out := cmd.OutOrStdout()

	_, _ = fmt.Fprintf(out, "Validating %s...\n\n", path)

	cfg, err := config.Load(path)
	if err != nil {
		var configErr *config.Error
		if errors.As(err, &configErr) {
			printConfigErrors(out, configErr)
			return fmt.Errorf("configuration invalid")
		}
		return fmt.Errorf("failed to load config: %w", err)
	}

	printConfigSummary(out, cfg)
	_, _ = fmt.Fprintln(out, "\nConfiguration valid!")
	return nil
}

func printConfigErrors(out io.Writer, e *config.Error) {
	if len(e.Missing) > 0 {
		_, _ = fmt.Fprintln(out, "Missing environment variables:")
		for _, m := range e.Missing {
			_, _ = fmt.Fprintf(out, "  - %s\n", m)
		}
		_, _ = fmt.Fprintln(out)
	}

	if len(e.Problems) > 0 {
		_, _ = fmt.Fprintln(out, "Validation errors:")
		for _, p := range e.Problems {
			_, _ = fmt.Fprintf(out, "  - %s\n", p)
		}
		_, _ = fmt.Fprintln(out)
	}
}

func printConfigSummary(out io.Writer, cfg *config.Config) {
	_, _ = fmt.Fprintln(out, "Configuration Summary:")
	_, _ = fmt.Fprintf(out, "  Server:     %s:%d (log: %s)\n", cfg.Server.Host, cfg.Server.Port, cfg.Server.LogLevel)
	_, _ = fmt.Fprintf(out, "  Database:   %s\n", cfg.Database.Path)
	_, _ = fmt.Fprintf(out, "  Tool:       %s\n", cfg.Tool.Path)
	_, _ = fmt.Fprintf(out, "  Workspace:  %s\n", cfg.Workspace.Root)
	_, _ = fmt.Fprintf(out, "  Jobs:       %d workers, queue %d, max %s, retention %s\n",
		cfg.Jobs.Workers, cfg.Jobs.QueueSize, cfg.Jobs.MaxDuration.Duration, cfg.Jobs.Retention.Duration)
	if cfg.Server.CompatBlocking {
		_, _ = fmt.Fprintln(out, "  Compat:     blocking downloads")
	}
	if cfg.Redis != nil && cfg.Redis.URL != "" {
		_, _ = fmt.Fprintf(out, "  Redis:      mirror enabled (ttl %s)\n", cfg.Redis.TTL.Duration)
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.DefaultPath()
	if len(args) > 0 {
		path = args[0]
	}
	force, _ := cmd.Flags().GetBool("force")

	if err := config.WriteDefault(path, force); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		return fmt.Errorf("write config: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
