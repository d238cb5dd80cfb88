package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/yieldrun/internal/config"
	httpapi "github.com/sawpanic/yieldrun/internal/interfaces/http"
)

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only HTTP API",
		Long:  "Serves /health, /metrics and the /v1 query endpoints until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			httpCfg := cfg.HTTP
			if cmd.Flags().Changed("host") {
				httpCfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				httpCfg.Port = port
			}

			server := httpapi.NewServer(httpCfg, rt.Engine, httpapi.Options{
				Health:   httpapi.NewHealthHandler(rt.Health, rt.Database.Health(), rt.Metrics, version),
				Metrics:  rt.Metrics.Handler(),
				Observer: rt.Metrics,
			})

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info().Str("component", "serve").Msg("signal received, draining")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(cfg.HTTP.ShutdownTimeoutSecs))
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("shutdown: %w", err)
			}
			return <-errCh
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides http.host)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides http.port)")
	return cmd
}
