// Package cmd defines the CLI commands of the progressdemo executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/progress-coordinator/internal/app"
	"github.com/JakeFAU/progress-coordinator/internal/config"
	"github.com/JakeFAU/progress-coordinator/internal/demo"
	"github.com/JakeFAU/progress-coordinator/internal/navigation"
	"github.com/JakeFAU/progress-coordinator/internal/progressbar"
)

// cfgKeyType is the key for storing the loaded Config in the context.
type cfgKeyType string

const cfgKey cfgKeyType = "config"

// App is what the subcommands need from the application. Tests swap in a
// fake through newApp.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Coordinator() *progressbar.Coordinator
	Simulator() *demo.Simulator
	Router() *navigation.Router
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.Build(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "progressdemo",
		Short: "Drives a single progress indicator from manual, HTTP and navigation activity.",
		Long: `progressdemo runs one progress coordinator and feeds it from three sources:
explicit start/set/complete calls, tracked HTTP requests and page navigation.
Serve it over HTTP or watch it in the terminal.`,
		SilenceUsage: true,

		// Runs before every subcommand so they all see the same configuration.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and PROGRESS_* env vars when empty)")

	cmd.AddCommand(newServeCmd(), newTUICmd())
	return cmd
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(cfgKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
