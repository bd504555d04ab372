package proxy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/oshokin/priv-updater/internal/logger"
)

// defaultBreakerTimeout is how long an open breaker rejects fetches before probing again.
const defaultBreakerTimeout = 30 * time.Second

// abandonedError marks a fetch that failed because the inbound request went away.
// The breaker counts it as a success: the upstream did nothing wrong.
type abandonedError struct {
	err error
}

func (e *abandonedError) Error() string {
	return e.err.Error()
}

func (e *abandonedError) Unwrap() error {
	return e.err
}

// GuardOptions configure upstream fetch limits.
type GuardOptions struct {
	// RateLimit caps fetches per second. Zero means unlimited.
	RateLimit float64
	// RateBurst is the limiter burst. Zero derives it from RateLimit.
	RateBurst int
	// BreakerFailures opens the breaker after this many consecutive failures. Zero disables it.
	BreakerFailures int
	// BreakerTimeout is how long the breaker stays open. Zero means 30 seconds.
	BreakerTimeout time.Duration
}

// Guard throttles upstream fetches and stops hammering an upstream that keeps failing.
// It never retries. A nil *Guard lets everything through.
type Guard struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGuard builds a guard, or returns nil when opts enable nothing.
func NewGuard(ctx context.Context, opts *GuardOptions) *Guard {
	if opts == nil || (opts.RateLimit <= 0 && opts.BreakerFailures <= 0) {
		return nil
	}

	g := new(Guard)

	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = int(math.Max(1, math.Ceil(opts.RateLimit)))
		}

		g.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	if opts.BreakerFailures > 0 {
		timeout := opts.BreakerTimeout
		if timeout <= 0 {
			timeout = defaultBreakerTimeout
		}

		threshold := uint32(opts.BreakerFailures) //nolint:gosec // Validated as positive above.

		//nolint:exhaustruct // Interval and MaxRequests keep gobreaker defaults.
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "upstream",
			Timeout: timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				var abandoned *abandonedError

				return err == nil || errors.As(err, &abandoned)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.WarnKV(ctx, "Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}

	return g
}

// Do waits for the limiter and runs fetch through the breaker.
func (g *Guard) Do(ctx context.Context, fetch func() (*http.Response, error)) (*http.Response, error) {
	if g == nil {
		return fetch()
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	if g.breaker == nil {
		return fetch()
	}

	result, err := g.breaker.Execute(func() (any, error) {
		resp, fetchErr := fetch()
		if fetchErr != nil && ctx.Err() != nil {
			return nil, &abandonedError{err: fetchErr}
		}

		return resp, fetchErr
	})
	if err != nil {
		var abandoned *abandonedError
		if errors.As(err, &abandoned) {
			return nil, abandoned.err
		}

		return nil, err
	}

	resp, _ := result.(*http.Response)

	return resp, nil
}
