package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tap-lms/journey-hub/config"
	"github.com/tap-lms/journey-hub/internal/infrastructure/persistence"
	"github.com/tap-lms/journey-hub/pkg/logger"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "journeyctl",
		Short:         "Operate the student journey service",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("env-file", ".env", "Optional .env file loaded before the environment")

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newStagesCmd())
	root.AddCommand(newStageCmd())
	root.AddCommand(newAPIKeyCmd())
	return root
}

// Execute runs the root command; ctx is cancelled on SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openBackend opens storage with infrastructure logs on stderr.
func openBackend(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*persistence.Backend, error) {
	return persistence.Open(ctx, cfg, quietLogger(cmd.ErrOrStderr()).Slog())
}

// quietLogger keeps command output readable: warnings and errors only, as text.
func quietLogger(w io.Writer) *logger.Logger {
	return logger.New(logger.Options{Output: w, Level: logger.LevelWarn, Format: "text"})
}
