package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewWaitCommand creates the wait-for-ready command
func NewWaitCommand(opts *globalOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait-for-ready",
		Short: "Boot the runtime and wait until every module is ready",
		Long: `Boot the runtime described by --manifest and wait until every module is
Active, or Resolved for fragments. Exits non-zero when a module fails or the
timeout elapses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := boot(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.close()

			if timeout <= 0 {
				timeout = env.cfg.ModuleWait
			}
			start := time.Now()
			if err := env.monitor.WaitForModulesWithTimeout(ctx, timeout); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ready after %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Maximum time to wait (defaults to the configured module wait)")
	return cmd
}
