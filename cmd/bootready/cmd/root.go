package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// OsExit allows tests to intercept process exit.
var OsExit = os.Exit

// globalOptions are the flags shared by every command that boots a host.
type globalOptions struct {
	configFile string
	manifest   string
	configDir  string
	logLevel   string
	logFormat  string
}

// NewRootCommand creates the root command for the bootready application
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "bootready",
		Short: "bootready - block until a modular runtime is ready",
		Long: `bootready boots a modular runtime from a manifest and reports when its
modules, features and managed services have reached their target state.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Monitor configuration file (.yaml or .toml)")
	flags.StringVarP(&opts.manifest, "manifest", "m", "", "Runtime manifest describing modules, features and services")
	flags.StringVar(&opts.configDir, "config-dir", "", "Directory holding one configuration file per pid")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")

	cmd.AddCommand(NewWaitCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), PrintVersion())
		},
	}
}

// PrintVersion prints version information
func PrintVersion() string {
	return fmt.Sprintf("bootready v%s (commit: %s, built on: %s)", Version, Commit, Date)
}
