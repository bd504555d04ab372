package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/priv-updater/internal/service/serve"
)

// serveCmd runs the proxy until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve [listen-address]",
	Short: "Resolve the latest release and serve it locally.",
	Long: `Resolves the latest release once, binds the listen address and serves its assets
until SIGINT or SIGTERM.

When the port is taken, the following ports of the same block of 1000 are tried,
wrapping within the block, up to 10 more times.
Listen address can be provided as argument to override config (e.g., 127.0.0.1:9000).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signalContext()
		defer stop()

		// Use listen address argument if provided, otherwise rely on config.
		var listenAddress string
		if len(args) > 0 {
			listenAddress = args[0]
		}

		return serve.Run(ctx, &serve.Options{
			ConfigPath:    configPath,
			ListenAddress: listenAddress,
		})
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(serveCmd)
}
