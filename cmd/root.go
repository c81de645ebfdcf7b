// Package cmd holds the mailroom command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mailroom/pkg/config"
	"mailroom/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mailroom",
	Short: "Filesystem mailbox router",
	Long: "Mailroom watches mailbox folders for message files, routes each message to an agent or workflow, " +
		"and records its processing status.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if path := strings.TrimSpace(configPath); path != "" {
			return os.Setenv(config.EnvConfig, path)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (overrides "+config.EnvConfig+")")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads and resolves configuration. Commands that can run without
// a file fall back to config.Default.
func loadConfig(requireFile bool) (*config.Config, error) {
	load := config.LoadOrDefault
	if requireFile {
		load = config.LoadConfig
	}

	cfg, err := load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Resolve(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// setupLogger installs the configured logger as the slog default.
func setupLogger(cfg *config.Config, component string) (*slog.Logger, error) {
	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	return appLogger.With("component", component), nil
}
