package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/sessiond/pkg/config"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the health and metrics HTTP server",
	Long: `Opens the session storage and serves /healthz, /metrics and read-only
session endpoints until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cfg, err := openService(cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		srv := &http.Server{
			Addr:              listenAddr(cmd, cfg),
			Handler:           svc.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)

		go func() {
			fmt.Fprintf(cmd.OutOrStdout(), "Starting sessiond server on %s\n", srv.Addr)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			fmt.Fprintf(cmd.OutOrStdout(), "\nStart shutdown... Signal: %v\n", sig)

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Graceful shutdown did not complete in %v: %v\n", shutdownTimeout, err)
				if err := srv.Close(); err != nil {
					return fmt.Errorf("error killing server: %w", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sessiond server stopped gracefully")
			return nil
		}
	},
}

// listenAddr prefers the --listen flag over server.listen.
func listenAddr(cmd *cobra.Command, cfg *config.Config) string {
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		return listen
	}
	return cfg.Server.Listen
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", "", "Address to listen on (defaults to server.listen)")
}
