package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/progress-coordinator/internal/logging"
	"github.com/JakeFAU/progress-coordinator/internal/tui"
)

// runTUI is swapped in tests, which have no terminal.
var runTUI = tui.Run

func newTUICmd() *cobra.Command {
	var logFile string
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Shows the coordinator in the terminal",
		Long: `Renders the progress bar in the terminal and binds keys to the manual
controls, simulated HTTP bursts and page navigation. Logs are discarded
unless --log-file is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUICommand(cmd, logFile)
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file")
	return cmd
}

func runTUICommand(cmd *cobra.Command, logFile string) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	logger := zap.NewNop()
	if logFile != "" {
		logger, err = logging.NewFile(cfg.Logging.Development, cfg.Logging.Level, logFile)
		if err != nil {
			return fmt.Errorf("logger init failed: %w", err)
		}
	}

	appInstance, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := appInstance.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
			logger.Warn("failed to close application", zap.Error(cerr))
		}
	}()

	return runTUI(cmd.Context(), tui.Config{
		Coordinator: appInstance.Coordinator(),
		Simulator:   appInstance.Simulator(),
		Navigator:   appInstance.Router(),
		Logger:      logger.Named("tui"),
		BurstSize:   cfg.Demo.BurstSize,
		Context:     cmd.Context(),
	})
}
