package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the demo HTTP server",
	Long: `Serve exposes POST /login, POST /logout and GET /me over a cookie session,
plus /metrics in Prometheus text format.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openEnvironment(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		logger := slog.Default()
		server := &http.Server{
			Addr:              listenAddr,
			Handler:           newRouter(env.auth, logger),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()
		logger.Info("listening", "addr", listenAddr, "dsn_kind", dsnKind(), "redis", redisAddr != "")

		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return <-done
		}
	},
}

func dsnKind() string {
	if isPostgres(dsn) {
		return "postgres"
	}
	return "sqlite"
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "listen address")
}
