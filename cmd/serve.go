package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the coordinator over HTTP",
		Long: `Starts the HTTP API: coordinator state and controls under /api/progress,
demo pages and simulations, a server-sent event stream of display changes,
recorded display sessions, health probes and Prometheus metrics.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	appInstance, err := newApp(cmd.Context(), cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	if err := appInstance.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
