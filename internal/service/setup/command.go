package setup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/oshokin/priv-updater/internal/config"
	"github.com/oshokin/priv-updater/internal/logger"
)

// Options contains inputs for writing the settings file.
type Options struct {
	// ConfigPath is where the settings are written (defaults to priv-updater.yaml).
	ConfigPath string
	// Account owns the repository.
	Account string
	// Repository is the repository name.
	Repository string
	// ListenAddress overrides the default proxy address.
	ListenAddress string
	// HealthAddress enables the gRPC health endpoint.
	HealthAddress string
	// AdminAddress enables the metrics and probes endpoint.
	AdminAddress string
	// Force overwrites an existing file.
	Force bool
}

// ErrSettingsExist is returned when the target file exists and Force is not set.
var ErrSettingsExist = errors.New("settings file already exists")

// Run validates the options and writes the settings file. The token is never written.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "config-init")

	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultConfigFilename
	}

	if !opts.Force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrSettingsExist, path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", path, err)
		}
	}

	cfg := config.Default()
	cfg.GitHub.Account = opts.Account
	cfg.GitHub.Repository = opts.Repository
	cfg.Health.Address = opts.HealthAddress
	cfg.Admin.Address = opts.AdminAddress

	if opts.ListenAddress != "" {
		cfg.ListenAddress = opts.ListenAddress
	}

	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	logger.Info(ctx, nextSteps(path))

	return nil
}

// nextSteps renders human-readable guidance after the file is written.
func nextSteps(path string) string {
	var builder strings.Builder

	builder.WriteString("Settings saved to ")
	builder.WriteString(path)
	builder.WriteString(".\nThe access token is never stored in the file; export it before serving:\n  ")
	builder.WriteString(config.EnvPrefix)
	builder.WriteString("_GITHUB_TOKEN=<token> priv-updater serve --config ")
	builder.WriteString(path)

	return builder.String()
}
