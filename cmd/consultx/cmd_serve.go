package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tetraminz/consultation_x/internal/httpapi"
)

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the practice API over HTTP and websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.runServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func (c *cli) runServe(ctx context.Context) error {
	a, err := c.openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := httpapi.NewServer(c.logger.Named("http"), c.cfg.Server.Addr, a.service, a.audio)
	errCh := make(chan error, 1)
	go func() {
		c.logger.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("db_driver", c.cfg.Database.Driver),
			zap.String("persona_provider", c.cfg.Persona.Provider),
			zap.String("evaluator_provider", c.cfg.Evaluator.Provider),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	c.logger.Info("shutting down", zap.Duration("timeout", c.cfg.ShutdownTimeout()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
