package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/priv-updater/internal/service/inspect"
)

var (
	// currentVersion is compared with the latest tag when set.
	currentVersion string

	// releaseCmd prints what the proxy would serve.
	releaseCmd = &cobra.Command{
		Use:   "release",
		Short: "Show the latest release the proxy would serve.",
		Long: `Resolves the latest release and prints its tag, the public download base that
the manifest rewrite replaces, and the asset names.

With --current, also reports whether the release is newer than that version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			return inspect.Run(ctx, &inspect.Options{
				ConfigPath: configPath,
				Current:    currentVersion,
				Out:        cmd.OutOrStdout(),
			})
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	releaseCmd.Flags().StringVar(&currentVersion, "current", "", "running version to compare with (e.g. v1.2.0)")
	rootCmd.AddCommand(releaseCmd)
}
