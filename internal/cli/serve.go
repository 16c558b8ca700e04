package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/snake-arena/internal/app"
)

func newServeCmd(opts *options) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket hub and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				logger.Error("failed to initialize", "error", err)
				return err
			}

			errCh, err := a.Start(ctx)
			if err != nil {
				_ = a.Close()
				return err
			}

			select {
			case <-ctx.Done():
				logger.Info("shutting down server...")
			case err := <-errCh:
				if err != nil {
					logger.Error("HTTP server error", "error", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := a.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown finished with errors", "error", err)
				return err
			}
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Override server.port")
	return cmd
}
