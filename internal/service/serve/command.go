package serve

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/oshokin/priv-updater/internal/admin"
	"github.com/oshokin/priv-updater/internal/binder"
	"github.com/oshokin/priv-updater/internal/config"
	"github.com/oshokin/priv-updater/internal/health"
	"github.com/oshokin/priv-updater/internal/logger"
	"github.com/oshokin/priv-updater/internal/proxy"
	"github.com/oshokin/priv-updater/internal/updater"
)

// Options controls the serve process.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ListenAddress overrides the listen address from the configuration.
	ListenAddress string
	// Started is called once the proxy accepts requests. Optional.
	Started func(u *updater.PrivUpdater)
}

// Run resolves the latest release and serves it until ctx is canceled.
// A clean shutdown returns nil.
//
//nolint:funlen // Sequential start-up reads best in one place.
func Run(ctx context.Context, opts *Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	// The file sink must be in place before the named logger is derived from it.
	configureLogger(&cfg.Log)

	ctx = logger.WithName(ctx, "serve")

	// Command line argument overrides config.
	listenAddress := cfg.ListenAddress
	if opts.ListenAddress != "" {
		listenAddress = opts.ListenAddress
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	u, err := updater.New(ctx, newUpdaterOptions(cfg, listenAddress, registry))
	if err != nil {
		return err
	}

	var healthServer *health.Server

	if cfg.Health.Address != "" {
		healthServer, err = health.Start(ctx, cfg.Health.Address)
		if err != nil {
			return fmt.Errorf("start health endpoint: %w", err)
		}

		defer healthServer.Stop()
	}

	if cfg.Admin.Address != "" {
		adminServer, adminErr := admin.Start(ctx, cfg.Admin.Address, registry, func() bool {
			return u.State() == updater.StateServing
		})
		if adminErr != nil {
			return fmt.Errorf("start admin endpoint: %w", adminErr)
		}

		defer adminServer.Stop()
	}

	shutdown, err := u.Serve(ctx)
	if err != nil {
		return err
	}

	if healthServer != nil {
		healthServer.SetServing(true)
	}

	logger.InfoKV(ctx, "Serving latest release",
		"repository", cfg.GitHub.Account+"/"+cfg.GitHub.Repository,
		"tag", u.Release().TagName,
		"base_url", u.BaseURL(),
		"assets", len(u.Assets()),
	)

	if opts.Started != nil {
		opts.Started(u)
	}

	select {
	case <-ctx.Done():
		logger.Info(ctx, "Shutting down release proxy")
	case <-u.Done():
	}

	shutdown()

	err = u.Wait()

	if healthServer != nil {
		healthServer.SetServing(false)
	}

	if err != nil {
		return fmt.Errorf("serve release proxy: %w", err)
	}

	logger.Info(ctx, "Release proxy stopped")

	return nil
}

func newUpdaterOptions(cfg *config.Config, listenAddress string, reg prometheus.Registerer) *updater.Options {
	return &updater.Options{
		Account:      cfg.GitHub.Account,
		Repository:   cfg.GitHub.Repository,
		Token:        cfg.GitHub.Token,
		Address:      listenAddress,
		APIBaseURL:   cfg.GitHub.APIURL,
		ManifestName: cfg.Proxy.Manifest,
		Timeout:      cfg.Upstream.Timeout,
		Bind: &binder.Policy{
			Window:     cfg.Bind.PortWindow,
			MaxRetries: cfg.Bind.MaxRetries,
		},
		Guard: &proxy.GuardOptions{
			RateLimit:       cfg.Proxy.RateLimit,
			RateBurst:       cfg.Proxy.RateBurst,
			BreakerFailures: cfg.Proxy.BreakerFailures,
		},
		Registerer: reg,
	}
}

// configureLogger applies the configured level and, when asked, a rotating log file.
func configureLogger(settings *config.Log) {
	if level, ok := logger.ParseLogLevel(settings.Level); ok {
		logger.SetLevel(level)
	}

	if settings.File == "" {
		return
	}

	logger.SetLogger(logger.New(logger.AtomicLevel(), &logger.FileOptions{
		Path:       settings.File,
		MaxSizeMB:  settings.MaxSizeMB,
		MaxBackups: settings.MaxBackups,
		MaxAgeDays: settings.MaxAgeDays,
	}))
}
