package proxy

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/oshokin/priv-updater/internal/logger"
)

// RequestIDHeader carries the request id back to the client.
const RequestIDHeader = "X-Request-Id"

// HandlerOption configures NewHandler.
type HandlerOption func(*handler)

// WithMetrics records requests in m.
func WithMetrics(m *Metrics) HandlerOption {
	return func(h *handler) {
		h.metrics = m
	}
}

// handler serves GET /{filename} from a snapshot.
type handler struct {
	// snapshot is shared read-only by all requests.
	snapshot *Snapshot
	// metrics may be nil.
	metrics *Metrics
}

// NewHandler returns the HTTP surface of the proxy:
// GET or HEAD /{filename} answers 200, 404 for unknown names, 502 for upstream failures.
func NewHandler(snapshot *Snapshot, opts ...HandlerOption) http.Handler {
	h := &handler{snapshot: snapshot}
	for _, opt := range opts {
		opt(h)
	}

	router := mux.NewRouter()
	router.Use(requestID)
	router.HandleFunc("/{filename}", h.serveAsset).Methods(http.MethodGet, http.MethodHead)
	router.NotFoundHandler = requestID(http.HandlerFunc(h.notFound))
	router.MethodNotAllowedHandler = requestID(http.HandlerFunc(methodNotAllowed))

	return router
}

// requestID tags the request with a fresh id, in the response and in the logger.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if w.Header().Get(RequestIDHeader) != "" {
			next.ServeHTTP(w, r)
			return
		}

		id := uuid.NewString()
		w.Header().Set(RequestIDHeader, id)

		ctx := logger.WithFields(r.Context(), "request_id", id, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *handler) serveAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filename := mux.Vars(r)["filename"]
	kind := h.snapshot.KindOf(filename)

	started := time.Now()
	asset, err := h.snapshot.Open(ctx, filename)

	switch {
	case errors.Is(err, ErrNotFound):
		h.metrics.observeRequest(KindUnknown, outcomeNotFound)
		logger.DebugKV(ctx, "Unknown asset requested", "filename", filename)
		http.NotFound(w, r)

		return
	case err != nil:
		h.metrics.observeFetch(kind, started)
		h.metrics.observeRequest(kind, outcomeUpstreamError)
		logger.ErrorKV(ctx, "Upstream fetch failed", "filename", filename, "error", err)
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)

		return
	}

	h.metrics.observeFetch(kind, started)

	defer func() {
		_ = asset.Body.Close()
	}()

	if asset.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(asset.Size, 10))
	}

	w.WriteHeader(http.StatusOK)

	var written int64

	// HEAD fetches like GET: the manifest length is only known after rewriting.
	if r.Method != http.MethodHead {
		written, err = io.Copy(w, asset.Body)
		if err != nil {
			// Headers are gone already; the client sees a truncated body.
			h.metrics.observeRequest(kind, outcomeUpstreamError)
			logger.WarnKV(ctx, "Streaming interrupted", "filename", filename, "written", written, "error", err)

			return
		}
	}

	h.metrics.observeBytes(written)
	h.metrics.observeRequest(kind, outcomeOK)
	logger.InfoKV(ctx, "Asset served", "filename", filename, "kind", string(kind), "bytes", written)
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	h.metrics.observeRequest(KindUnknown, outcomeNotFound)
	http.NotFound(w, r)
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", "GET, HEAD")
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}
