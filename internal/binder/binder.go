package binder

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/oshokin/priv-updater/internal/logger"
)

const (
	// DefaultWindow is the size of the port block the search stays in.
	DefaultWindow = 1000

	// DefaultMaxRetries is how many unavailable candidates are tolerated.
	DefaultMaxRetries = 10

	// maxPort is the highest valid TCP port.
	maxPort = 65535
)

var (
	// ErrNoUsablePort is returned when every candidate within the retry budget failed.
	ErrNoUsablePort = errors.New("no usable port")
	// errInvalidWindow is returned for a window outside 1..65536.
	errInvalidWindow = errors.New("port window must be between 1 and 65536")
)

// ListenFunc opens a listener on address.
type ListenFunc func(ctx context.Context, network, address string) (net.Listener, error)

// Policy controls the port search.
type Policy struct {
	// Window is the size of the port block. Zero means DefaultWindow.
	Window int
	// MaxRetries is the number of failed candidates tolerated before giving up.
	MaxRetries int
	// Listen opens listeners. Nil uses net.ListenConfig.
	Listen ListenFunc
}

// DefaultPolicy returns the policy used when none is given.
func DefaultPolicy() *Policy {
	return &Policy{
		Window:     DefaultWindow,
		MaxRetries: DefaultMaxRetries,
	}
}

// Bind listens on address, or on the next candidates of the port search when it is taken.
// It returns the listener and the effective address.
func Bind(ctx context.Context, address string, policy *Policy) (net.Listener, *net.TCPAddr, error) {
	if policy == nil {
		policy = DefaultPolicy()
	}

	window := policy.Window
	if window == 0 {
		window = DefaultWindow
	}

	if window < 1 || window > maxPort+1 {
		return nil, nil, errInvalidWindow
	}

	listen := policy.Listen
	if listen == nil {
		lc := new(net.ListenConfig)
		listen = lc.Listen
	}

	candidate, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve %q: %w", address, err)
	}

	first := candidate.Port

	for failures := 0; ; {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		lis, lastErr := listen(ctx, "tcp", candidate.String())
		if lastErr == nil {
			effective, ok := lis.Addr().(*net.TCPAddr)
			if !ok {
				effective = candidate
			}

			return lis, effective, nil
		}

		failures++

		logger.WarnKV(ctx, "Port unavailable", "address", candidate.String(), "attempt", failures, "error", lastErr)

		if failures > policy.MaxRetries {
			return nil, nil, fmt.Errorf(
				"%w: tried ports %d..%d on %s in %d attempts: %w",
				ErrNoUsablePort,
				first,
				candidate.Port,
				hostOf(candidate),
				failures,
				lastErr,
			)
		}

		next := *candidate
		next.Port = NextPort(candidate.Port, window)
		candidate = &next
	}
}

// NextPort returns the port following port within its block of window ports,
// wrapping to the start of the block. Blocks reaching past 65535 wrap early.
func NextPort(port, window int) int {
	if window <= 1 {
		return port
	}

	start := port / window * window
	next := start + (port-start+1)%window

	if next > maxPort {
		return start
	}

	return next
}

func hostOf(addr *net.TCPAddr) string {
	if addr.IP == nil {
		return "all interfaces"
	}

	return addr.IP.String()
}
