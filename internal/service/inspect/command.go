package inspect

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/oshokin/priv-updater/internal/config"
	"github.com/oshokin/priv-updater/internal/logger"
	"github.com/oshokin/priv-updater/internal/release"
)

// Options controls the release inspection.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// Current is the version the host application runs. Empty skips the comparison.
	Current string
	// Out receives the report. Nil means stdout.
	Out io.Writer
}

// Run resolves the latest release and prints its tag, download base and assets.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "release")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	resolution, err := release.Resolve(ctx, &release.Options{
		Account:    cfg.GitHub.Account,
		Repository: cfg.GitHub.Repository,
		Token:      cfg.GitHub.Token,
		APIBaseURL: cfg.GitHub.APIURL,
		Timeout:    cfg.Upstream.Timeout,
	})
	if err != nil {
		return fmt.Errorf("resolve latest release: %w", err)
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	return report(out, cfg, resolution, opts.Current)
}

func report(out io.Writer, cfg *config.Config, resolution *release.Resolution, current string) error {
	w := &errWriter{w: out}

	w.printf("repository:    %s/%s\n", cfg.GitHub.Account, cfg.GitHub.Repository)
	w.printf("tag:           %s\n", resolution.Release.TagName)

	if resolution.Release.Name != "" {
		w.printf("name:          %s\n", resolution.Release.Name)
	}

	w.printf("download base: %s\n", resolution.DownloadURLBase)
	w.printf("assets:\n")

	for _, name := range resolution.Catalog.Names() {
		marker := ""
		if name == cfg.Proxy.Manifest {
			marker = " (manifest)"
		}

		w.printf("  %s%s\n", name, marker)
	}

	if current != "" {
		newer, err := resolution.Release.IsNewerThan(current)
		if err != nil {
			return err
		}

		answer := "no"
		if newer {
			answer = "yes"
		}

		w.printf("update available: %s (running %s)\n", answer, current)
	}

	return w.err
}

// errWriter keeps the first write error so the report reads top to bottom.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}

	_, e.err = fmt.Fprintf(e.w, format, args...)
}
