package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/priv-updater/internal/service/setup"
)

var (
	// initOptions collects the flags of "config init".
	initOptions setup.Options

	// configCmd groups settings helpers.
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the settings file.",
	}

	// configInitCmd writes a settings skeleton.
	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a settings file for a repository.",
		Long: `Writes a settings file with every default filled in for the given repository.

The access token is never written; supply it as PRIV_UPDATER_GITHUB_TOKEN.
An existing file is kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			options := initOptions
			options.ConfigPath = configPath

			return setup.Run(cmd.Context(), &options)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := configInitCmd.Flags()
	flags.StringVarP(&initOptions.Account, "account", "a", "", "repository owner")
	flags.StringVarP(&initOptions.Repository, "repository", "r", "", "repository name")
	flags.StringVar(&initOptions.ListenAddress, "listen", "", "proxy listen address")
	flags.StringVar(&initOptions.HealthAddress, "health", "", "gRPC health endpoint address (disabled when empty)")
	flags.StringVar(&initOptions.AdminAddress, "admin", "", "metrics and probes address (disabled when empty)")
	flags.BoolVarP(&initOptions.Force, "force", "f", false, "overwrite an existing file")

	for _, name := range []string{"account", "repository"} {
		if err := configInitCmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
