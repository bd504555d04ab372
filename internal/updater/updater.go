package updater

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/oshokin/priv-updater/internal/binder"
	"github.com/oshokin/priv-updater/internal/logger"
	"github.com/oshokin/priv-updater/internal/proxy"
	"github.com/oshokin/priv-updater/internal/release"
)

const (
	// DefaultAddress is the loopback address the proxy prefers.
	DefaultAddress = "127.0.0.1:7748"

	// readHeaderTimeout bounds how long a client may take to send request headers.
	readHeaderTimeout = 10 * time.Second
)

// ErrAlreadyServed is returned by Serve on a PrivUpdater that is serving or has stopped.
var ErrAlreadyServed = errors.New("updater already served; create a new one to serve again")

// ShutdownFunc stops the listener it was returned with. Only the first call has an effect.
type ShutdownFunc func()

// Options configure New.
type Options struct {
	// Account owns the repository.
	Account string
	// Repository is the repository name.
	Repository string
	// Token is the access token. It is never logged.
	Token string
	// Address is the preferred listen address. Empty means DefaultAddress.
	Address string
	// APIBaseURL overrides the GitHub API root.
	APIBaseURL string
	// ManifestName is the manifest filename. Empty means latest.json.
	ManifestName string
	// Timeout bounds upstream requests. Zero means no deadline.
	Timeout time.Duration
	// Transport is the base transport for upstream requests.
	Transport http.RoundTripper
	// Bind controls the port search. Nil uses binder.DefaultPolicy.
	Bind *binder.Policy
	// Guard limits upstream fetches. Nil disables limits.
	Guard *proxy.GuardOptions
	// Registerer receives the proxy metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// PrivUpdater mirrors the latest release of one private repository.
type PrivUpdater struct {
	// address is the requested listen address.
	address string
	// opts are the options New was called with.
	opts Options
	// resolution holds the catalog, download base and authenticated client.
	resolution *release.Resolution
	// metrics are shared by the handler of this instance.
	metrics *proxy.Metrics

	// mu guards everything below.
	mu sync.Mutex
	// state is the lifecycle stage.
	state State
	// addr is the effective bound address.
	addr *net.TCPAddr
	// baseURL is written into the manifest.
	baseURL string
	// shutdown is the capability of the running listener; nil once consumed.
	shutdown ShutdownFunc
	// done is closed when the accept loop has exited.
	done chan struct{}
	// waitErr is the terminal error of the accept loop.
	waitErr error
}

// New resolves the latest release. The returned PrivUpdater is not serving yet.
func New(ctx context.Context, opts *Options) (*PrivUpdater, error) {
	if opts == nil {
		opts = new(Options)
	}

	resolution, err := release.Resolve(ctx, &release.Options{
		Account:    opts.Account,
		Repository: opts.Repository,
		Token:      opts.Token,
		APIBaseURL: opts.APIBaseURL,
		Timeout:    opts.Timeout,
		Transport:  opts.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve latest release: %w", err)
	}

	address := opts.Address
	if address == "" {
		address = DefaultAddress
	}

	return &PrivUpdater{
		address:    address,
		opts:       *opts,
		resolution: resolution,
		metrics:    proxy.NewMetrics(opts.Registerer),
		state:      StateUnbound,
	}, nil
}

// Serve resolves and serves in one call using the default address.
func Serve(ctx context.Context, account, repository, token string) (*PrivUpdater, error) {
	u, err := New(ctx, &Options{
		Account:    account,
		Repository: repository,
		Token:      token,
	})
	if err != nil {
		return nil, err
	}

	if _, err = u.Serve(ctx); err != nil {
		return nil, err
	}

	return u, nil
}

// Serve binds a local address and starts the accept loop in the background.
// The listener stops when the returned ShutdownFunc or Shutdown is called, or when ctx is done.
// Requests already in flight are allowed to finish.
func (u *PrivUpdater) Serve(ctx context.Context) (ShutdownFunc, error) {
	ctx = logger.WithName(ctx, "priv-updater")

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != StateUnbound {
		return nil, fmt.Errorf("%w (state %s)", ErrAlreadyServed, u.state)
	}

	lis, addr, err := binder.Bind(ctx, u.address, u.opts.Bind)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", u.address, err)
	}

	baseURL := proxy.BaseURL(addr)

	snapshot := proxy.NewSnapshot(&proxy.SnapshotConfig{
		Catalog:         u.resolution.Catalog,
		Client:          u.resolution.Client,
		DownloadURLBase: u.resolution.DownloadURLBase,
		LocalBaseURL:    baseURL,
		ManifestName:    u.opts.ManifestName,
		Guard:           proxy.NewGuard(ctx, u.opts.Guard),
	})

	// Requests keep the logger but not the cancellation of ctx.
	requestCtx := context.WithoutCancel(ctx)

	srv := &http.Server{
		Handler:           proxy.NewHandler(snapshot, proxy.WithMetrics(u.metrics)),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return requestCtx
		},
	}

	serveCtx, cancel := context.WithCancel(ctx)

	var once sync.Once

	shutdown := ShutdownFunc(func() {
		once.Do(cancel)
	})

	group, groupCtx := errgroup.WithContext(serveCtx)

	group.Go(func() error {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve %s: %w", addr, err)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		u.setState(StateShuttingDown)
		logger.Info(ctx, "Shutting down release proxy")

		if err := srv.Shutdown(requestCtx); err != nil {
			return fmt.Errorf("shutdown %s: %w", addr, err)
		}

		return nil
	})

	u.state = StateServing
	u.addr = addr
	u.baseURL = baseURL
	u.shutdown = shutdown
	u.done = make(chan struct{})

	go u.awaitStop(ctx, group, cancel)

	logger.InfoKV(
		ctx,
		"Serving release assets",
		"address", addr.String(),
		"base_url", baseURL,
		"tag", u.resolution.Release.TagName,
		"assets", len(u.resolution.Catalog),
	)

	return shutdown, nil
}

// awaitStop records the terminal error once both goroutines have returned.
func (u *PrivUpdater) awaitStop(ctx context.Context, group *errgroup.Group, cancel context.CancelFunc) {
	err := group.Wait()

	cancel()

	u.mu.Lock()
	u.state = StateStopped
	u.waitErr = err
	done := u.done
	u.mu.Unlock()

	if err != nil {
		logger.ErrorKV(ctx, "Release proxy stopped with error", "error", err)
	} else {
		logger.Info(ctx, "Release proxy stopped")
	}

	close(done)
}

// Shutdown stops the listener. Calling it again, or before Serve, does nothing.
func (u *PrivUpdater) Shutdown() {
	u.mu.Lock()
	shutdown := u.shutdown
	u.shutdown = nil
	u.mu.Unlock()

	if shutdown != nil {
		shutdown()
	}
}

// Wait blocks until the accept loop has exited and returns its error.
// It returns nil immediately when Serve was never called successfully.
func (u *PrivUpdater) Wait() error {
	u.mu.Lock()
	done := u.done
	u.mu.Unlock()

	if done == nil {
		return nil
	}

	<-done

	u.mu.Lock()
	defer u.mu.Unlock()

	return u.waitErr
}

// Done returns a channel closed when the accept loop has exited,
// or nil when Serve was never called successfully.
func (u *PrivUpdater) Done() <-chan struct{} {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.done
}

// State returns the lifecycle stage.
func (u *PrivUpdater) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.state
}

// Addr returns the effective listen address, or nil before Serve.
func (u *PrivUpdater) Addr() *net.TCPAddr {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.addr
}

// BaseURL returns the proxy base URL, or "" before Serve.
func (u *PrivUpdater) BaseURL() string {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.baseURL
}

// Release returns the resolved release.
func (u *PrivUpdater) Release() *release.Release {
	return u.resolution.Release
}

// DownloadURLBase returns the upstream prefix rewritten in the manifest.
func (u *PrivUpdater) DownloadURLBase() string {
	return u.resolution.DownloadURLBase
}

// Assets returns the served filenames in sorted order.
func (u *PrivUpdater) Assets() []string {
	return u.resolution.Catalog.Names()
}

func (u *PrivUpdater) setState(s State) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != StateStopped {
		u.state = s
	}
}
