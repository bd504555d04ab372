package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oshokin/priv-updater/internal/logger"
)

const (
	// readHeaderTimeout bounds slow clients on the admin port.
	readHeaderTimeout = 10 * time.Second
	// shutdownTimeout bounds graceful shutdown of the admin server.
	shutdownTimeout = 2 * time.Second
)

// errAddressRequired is returned when Start is called without an address.
var errAddressRequired = errors.New("admin address is empty")

// ReadyFunc reports whether the proxy is serving.
type ReadyFunc func() bool

// Server is a running admin endpoint.
type Server struct {
	// srv is the underlying HTTP server.
	srv *http.Server
	// lis is the bound listener.
	lis net.Listener
	// done is closed when the accept loop exits.
	done chan struct{}
}

// NewRouter registers /metrics, /livez and /readyz.
func NewRouter(gatherer prometheus.Gatherer, ready ReadyFunc) *mux.Router {
	router := mux.NewRouter()

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	}).Methods(http.MethodGet)
	router.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && ready() {
			writeStatus(w, http.StatusOK, "ready")

			return
		}

		writeStatus(w, http.StatusServiceUnavailable, "not ready")
	}).Methods(http.MethodGet)

	return router
}

// Start binds addr and serves the admin router until ctx is done or Stop is called.
func Start(ctx context.Context, addr string, gatherer prometheus.Gatherer, ready ReadyFunc) (*Server, error) {
	if addr == "" {
		return nil, errAddressRequired
	}

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	s := &Server{
		srv: &http.Server{
			Handler:           NewRouter(gatherer, ready),
			ReadHeaderTimeout: readHeaderTimeout,
		},
		lis:  lis,
		done: make(chan struct{}),
	}

	go func() {
		defer close(s.done)

		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorKV(ctx, "Admin server failed", "error", err)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()

	logger.InfoKV(ctx, "Admin server listening", "address", lis.Addr().String())

	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.lis.Addr()
}

// Stop shuts the server down and waits for the accept loop to exit.
// Calling it more than once is harmless.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	_ = s.srv.Shutdown(ctx)

	<-s.done
}

func writeStatus(w http.ResponseWriter, code int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(text + "\n"))
}
