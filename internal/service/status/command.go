package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/priv-updater/internal/config"
	"github.com/oshokin/priv-updater/internal/health"
	"github.com/oshokin/priv-updater/internal/logger"
)

// Options controls the status query.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// HealthAddress overrides the health address from the configuration.
	HealthAddress string
	// Timeout bounds the health call. Zero uses health.DefaultCallTimeout.
	Timeout time.Duration
	// Out receives the response. Nil means stdout.
	Out io.Writer
}

var (
	// ErrNoHealthAddress is returned when neither flags nor settings name a health endpoint.
	ErrNoHealthAddress = errors.New("no health address configured")
	// ErrNotServing is returned when the proxy reports anything but SERVING.
	ErrNotServing = errors.New("release proxy is not serving")
)

// Run prints the health response of the proxy as JSON.
// It fails with ErrNotServing when the proxy is up but not serving.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "status")

	address := opts.HealthAddress
	if address == "" {
		cfg, err := config.LoadLocal(opts.ConfigPath)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}

		address = cfg.Health.Address
	}

	if address == "" {
		return ErrNoHealthAddress
	}

	client, err := health.Dial(ctx, address, health.WithCallTimeout(opts.Timeout))
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	logger.DebugKV(ctx, "Querying health endpoint", "address", address)

	resp, err := client.Check(ctx, health.ServiceName)
	if err != nil {
		return err
	}

	text, err := health.Format(resp)
	if err != nil {
		return err
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	if _, err = fmt.Fprintln(out, text); err != nil {
		return fmt.Errorf("write status: %w", err)
	}

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", ErrNotServing, resp.GetStatus())
	}

	return nil
}
