package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/priv-updater/internal/config"
	"github.com/oshokin/priv-updater/internal/logger"
	"github.com/oshokin/priv-updater/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides the configured log level when set.
	logLevel string

	// rootCmd represents the base command of the release proxy.
	rootCmd = &cobra.Command{
		Use:   "priv-updater",
		Short: "Serve the latest release of a private GitHub repository to a local updater.",
		Long: `Mirrors the assets of the latest release of a private GitHub repository on a
local HTTP address, so an application's built-in updater can download them without
holding a GitHub token.

The update manifest (latest.json by default) is rewritten so every download URL
points at the local proxy instead of GitHub. All other assets pass through unchanged.

Settings are read from priv-updater.yaml when present and can be overridden with
PRIV_UPDATER_* environment variables; the token is usually supplied as
PRIV_UPDATER_GITHUB_TOKEN.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if logLevel == "" {
				return nil
			}

			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}

			logger.SetLevel(level)

			// Settings are loaded later; the environment outranks the file there.
			return os.Setenv(config.EnvPrefix+"_LOG_LEVEL", logLevel)
		},
	}
)

// Execute runs the priv-updater CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext is canceled on SIGTERM or SIGINT.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", "", "path to configuration file (default priv-updater.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
}
