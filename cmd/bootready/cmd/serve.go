package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/bootready/configstore"
	"github.com/GoCodeAlone/bootready/httpapi"
	"github.com/GoCodeAlone/bootready/internal/reporter"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command
func NewServeCommand(opts *globalOptions) *cobra.Command {
	var (
		addr     string
		schedule string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Boot the runtime and serve readiness over HTTP",
		Long: `Boot the runtime described by --manifest and serve /readyz, /livez,
/modules and /metrics until interrupted. Readiness is also logged on the
--report-schedule cron schedule.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			env, err := boot(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.close()

			rep, err := reporter.New(env.monitor, schedule, reporter.WithLogger(env.logger.With("component", "reporter")))
			if err != nil {
				return err
			}
			if err := rep.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := rep.Stop(stopCtx); err != nil {
					env.logger.Error("Failed to stop reporter", "error", err)
				}
			}()

			if env.store != nil {
				go func() {
					if err := env.store.Watch(ctx, configstore.Apply(env.host)); err != nil {
						env.logger.Error("Configuration watch stopped", "error", err)
					}
				}()
			}

			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			srv := &http.Server{
				Handler:           httpapi.NewRouter(env.monitor, env.host, env.metrics.Handler(), httpapi.WithLogger(env.logger.With("component", "http"))),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				env.logger.Info("Serving readiness", "addr", listener.Addr().String())
				errCh <- srv.Serve(listener)
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			env.logger.Info("Server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&schedule, "report-schedule", reporter.DefaultSchedule, "Cron schedule for readiness log reports")
	return cmd
}
