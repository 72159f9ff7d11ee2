package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bleepstore/filestorage/internal/metrics"
	"github.com/bleepstore/filestorage/internal/server"

	"github.com/spf13/cobra"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, opts, func(a *app) error {
				if host != "" {
					a.cfg.Server.Host = host
				}
				if port != 0 {
					a.cfg.Server.Port = port
				}
				if a.cfg.Metrics.Enabled {
					metrics.Register()
				}

				srv, err := server.New(a.cfg, a.orch, a.store,
					server.WithHealthReporter(a.registry),
					server.WithLogger(slog.Default()),
				)
				if err != nil {
					return fmt.Errorf("failed to create server: %w", err)
				}
				return serve(ctx, srv, fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
					time.Duration(a.cfg.Server.ShutdownTimeout)*time.Second)
			})
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "override listening host")
	cmd.Flags().IntVar(&port, "port", 0, "override listening port")
	return cmd
}

// serve runs srv until ctx is cancelled, then drains in-flight requests
// within timeout.
func serve(ctx context.Context, srv *server.Server, addr string, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("File storage listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		slog.Info("Server stopped")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}
