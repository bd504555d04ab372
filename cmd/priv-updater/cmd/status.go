package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/priv-updater/internal/health"
	"github.com/oshokin/priv-updater/internal/service/status"
)

var (
	// statusTimeout bounds the health call.
	statusTimeout time.Duration

	// statusCmd queries a running proxy.
	statusCmd = &cobra.Command{
		Use:   "status [health-address]",
		Short: "Query the health endpoint of a running proxy.",
		Long: `Calls the gRPC health endpoint of a running proxy and prints the response as JSON.

Exits with non-zero status when the proxy is unreachable or not serving.
Health address can be provided as argument or loaded from configuration file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			var healthAddress string
			if len(args) > 0 {
				healthAddress = args[0]
			}

			return status.Run(ctx, &status.Options{
				ConfigPath:    configPath,
				HealthAddress: healthAddress,
				Timeout:       statusTimeout,
				Out:           cmd.OutOrStdout(),
			})
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	statusCmd.Flags().DurationVarP(&statusTimeout, "timeout", "t", health.DefaultCallTimeout, "health call timeout")
	rootCmd.AddCommand(statusCmd)
}
