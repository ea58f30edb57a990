package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/headline-tracker/internal/api"
	"github.com/JakeFAU/headline-tracker/internal/logging"
	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		host         string
		port         int
		delaySeconds float64
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web UI and JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config()
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("delay-seconds") {
				if _, err := tracker.DelayFromSeconds(delaySeconds); err != nil {
					return err
				}
				cfg.Tracker.DelaySeconds = delaySeconds
			}

			logger := a.Logger()
			apiServer := api.NewServer(a.Store(), a.Runner(), cfg, logging.Component(logger, "api"))
			srv := &http.Server{
				Addr:              cfg.Addr(),
				Handler:           apiServer.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			return serveUntilDone(cmd.Context(), srv, logger)
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen host (default server.host)")
	cmd.Flags().IntVar(&port, "port", 8000, "listen port (default server.port or $PORT)")
	cmd.Flags().Float64Var(&delaySeconds, "delay-seconds", 5, "initial delay offered by the run form")
	return cmd
}

// serveUntilDone runs srv until ctx is canceled, then drains it.
func serveUntilDone(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
