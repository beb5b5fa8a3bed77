package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/turnstream/internal/config"
	"github.com/hupe1980/turnstream/server"
	"github.com/hupe1980/turnstream/tool/builtin"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  `Serves turn submission, cancellation, session inspection and the per-session event feed over HTTP until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			readTimeout, err := config.DurationOrDefault(a.cfg.Server.ReadTimeout, config.DefaultServerReadTimeout)
			if err != nil {
				return fmt.Errorf("server.read_timeout: %w", err)
			}
			shutdownTimeout, err := config.DurationOrDefault(a.cfg.Server.ShutdownTimeout, config.DefaultServerShutdownTimeout)
			if err != nil {
				return fmt.Errorf("server.shutdown_timeout: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, b, err := a.buildService(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			srv := server.New(&server.Config{
				Addr:        a.cfg.Server.Addr,
				EnableCORS:  a.cfg.Server.CORS,
				ReadTimeout: readTimeout,
			}, svc, func(o *server.Options) {
				o.Tools = builtin.Tools()
				o.Bus = b
				o.Logger = a.logger
			})

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("server.shutdown", "timeout", shutdownTimeout.String())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("addr", config.DefaultServerAddr, "listen address")
	return cmd
}
