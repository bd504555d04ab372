package proxy

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/priv-updater/internal/release"
)

const (
	testDownloadBase = "https://dl.example.com/v1"
	testLocalBase    = "http://127.0.0.1:7748"
	testManifest     = `{
  "version": "1.2.0",
  "platforms": {
    "windows-x86_64": {"signature": "sig", "url": "https://dl.example.com/v1/app.exe"},
    "darwin-aarch64": {"signature": "sig", "url": "https://dl.example.com/v1/app.app.tar.gz"}
  },
  "notes": "see https://dl.example.com/v10/changelog and https://example.com/v1"
}`
)

// upstream is a fake asset host that counts hits per path.
type upstream struct {
	srv    *httptest.Server
	bodies map[string][]byte
	fail   map[string]int
	hits   atomic.Int64
}

func newUpstream(t *testing.T, bodies map[string][]byte, fail map[string]int) *upstream {
	t.Helper()

	u := &upstream{bodies: bodies, fail: fail}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)

		if status, ok := u.fail[r.URL.Path]; ok {
			http.Error(w, "boom", status)
			return
		}

		body, ok := u.bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}

		_, _ = w.Write(body)
	}))
	t.Cleanup(u.srv.Close)

	return u
}

func (u *upstream) url(path string) string {
	return u.srv.URL + path
}

func newTestServer(t *testing.T, u *upstream, guard *Guard, metrics *Metrics) *httptest.Server {
	t.Helper()

	snapshot := NewSnapshot(&SnapshotConfig{
		Catalog: release.Catalog{
			"latest.json": u.url("/assets/1"),
			"app.exe":     u.url("/assets/2"),
			"broken.zip":  u.url("/assets/3"),
		},
		Client:          u.srv.Client(),
		DownloadURLBase: testDownloadBase,
		LocalBaseURL:    testLocalBase,
		Guard:           guard,
	})

	srv := httptest.NewServer(NewHandler(snapshot, WithMetrics(metrics)))
	t.Cleanup(srv.Close)

	return srv
}

func get(t *testing.T, method, target string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, target, http.NoBody)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, body
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)

	return b
}

// TestRewrite verifies every occurrence is replaced and nothing else changes.
func TestRewrite(t *testing.T) {
	t.Parallel()

	got := Rewrite(testManifest, testDownloadBase, testLocalBase)
	require.Equal(t, strings.ReplaceAll(testManifest, testDownloadBase, testLocalBase), got)
	require.NotContains(t, got, testDownloadBase+"/")
	require.Contains(t, got, `"url": "http://127.0.0.1:7748/app.exe"`)
	require.Contains(t, got, "https://example.com/v1")

	// Identity when the base does not occur, or is empty.
	require.Equal(t, "no urls here", Rewrite("no urls here", testDownloadBase, testLocalBase))
	require.Equal(t, testManifest, Rewrite(testManifest, "", testLocalBase))
}

// TestHandler_ServesCatalog covers the manifest, binary and not-found paths.
func TestHandler_ServesCatalog(t *testing.T) {
	t.Parallel()

	binary := randomBytes(t, 1<<20)
	u := newUpstream(t, map[string][]byte{
		"/assets/1": []byte(testManifest),
		"/assets/2": binary,
	}, nil)

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	srv := newTestServer(t, u, nil, metrics)

	resp, body := get(t, http.MethodGet, srv.URL+"/latest.json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, Rewrite(testManifest, testDownloadBase, testLocalBase), string(body))
	require.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	resp, body = get(t, http.MethodGet, srv.URL+"/app.exe")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, bytes.Equal(binary, body))
	require.Equal(t, int64(len(binary)), resp.ContentLength)

	for _, name := range []string{"/missing.zip", "/LATEST.json", "/latest", "/nested/app.exe", "/"} {
		resp, _ = get(t, http.MethodGet, srv.URL+name)
		require.Equal(t, http.StatusNotFound, resp.StatusCode, name)
	}

	require.InDelta(t, 1, testutil.ToFloat64(metrics.requests.WithLabelValues("manifest", "ok")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(metrics.requests.WithLabelValues("asset", "ok")), 0)
	require.InDelta(t, 5, testutil.ToFloat64(metrics.requests.WithLabelValues("unknown", "not_found")), 0)

	served := len(binary) + len(Rewrite(testManifest, testDownloadBase, testLocalBase))
	require.InDelta(t, float64(served), testutil.ToFloat64(metrics.bytesServed), 0)
}

// TestHandler_UpstreamFailureIsNotNotFound ensures fetch failures surface as 502.
func TestHandler_UpstreamFailureIsNotNotFound(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, nil, map[string]int{"/assets/3": http.StatusInternalServerError})
	srv := newTestServer(t, u, nil, nil)

	resp, _ := get(t, http.MethodGet, srv.URL+"/broken.zip")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	// The upstream answers 404 for this one; it is still an upstream failure.
	resp, _ = get(t, http.MethodGet, srv.URL+"/app.exe")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

// TestSnapshot_Open checks the error taxonomy of Open.
func TestSnapshot_Open(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, nil, map[string]int{"/assets/3": http.StatusForbidden})
	snapshot := NewSnapshot(&SnapshotConfig{
		Catalog: release.Catalog{"broken.zip": u.url("/assets/3")},
		Client:  u.srv.Client(),
	})

	_, err := snapshot.Open(context.Background(), "missing.zip")
	require.ErrorIs(t, err, ErrNotFound)
	require.NotErrorIs(t, err, ErrUpstream)

	_, err = snapshot.Open(context.Background(), "broken.zip")
	require.ErrorIs(t, err, ErrUpstream)
	require.NotErrorIs(t, err, ErrNotFound)

	var upstreamErr *UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	require.Equal(t, http.StatusForbidden, upstreamErr.StatusCode)
	require.Equal(t, "broken.zip", upstreamErr.Filename)

	require.Equal(t, KindUnknown, snapshot.KindOf("missing.zip"))
	require.Equal(t, KindAsset, snapshot.KindOf("broken.zip"))
}

// TestHandler_Head returns the headers a GET would, without a body.
// For the manifest that means the length after rewriting.
func TestHandler_Head(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, map[string][]byte{
		"/assets/1": []byte(testManifest),
		"/assets/2": []byte("binary"),
	}, nil)
	srv := newTestServer(t, u, nil, nil)

	resp, body := get(t, http.MethodHead, srv.URL+"/app.exe")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, body)
	require.Equal(t, int64(len("binary")), resp.ContentLength)

	resp, body = get(t, http.MethodHead, srv.URL+"/latest.json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, body)
	require.Equal(t, int64(len(Rewrite(testManifest, testDownloadBase, testLocalBase))), resp.ContentLength)

	resp, _ = get(t, http.MethodPost, srv.URL+"/app.exe")
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// TestGuard_BreakerStopsUpstreamHammering verifies an open breaker fails fast without fetching.
func TestGuard_BreakerStopsUpstreamHammering(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, nil, map[string]int{"/assets/3": http.StatusServiceUnavailable})
	guard := NewGuard(context.Background(), &GuardOptions{BreakerFailures: 2})
	srv := newTestServer(t, u, guard, nil)

	for range 2 {
		resp, _ := get(t, http.MethodGet, srv.URL+"/broken.zip")
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	}

	require.Equal(t, int64(2), u.hits.Load())

	resp, _ := get(t, http.MethodGet, srv.URL+"/broken.zip")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, int64(2), u.hits.Load())
}

// TestGuard_AbandonedRequestsKeepBreakerClosed verifies fetches cut short by the
// client going away do not count as upstream failures.
func TestGuard_AbandonedRequestsKeepBreakerClosed(t *testing.T) {
	t.Parallel()

	u := newUpstream(t, map[string][]byte{"/assets/2": []byte("binary")}, nil)
	guard := NewGuard(context.Background(), &GuardOptions{BreakerFailures: 2})
	snapshot := NewSnapshot(&SnapshotConfig{
		Catalog: release.Catalog{"app.exe": u.url("/assets/2")},
		Client:  u.srv.Client(),
		Guard:   guard,
	})

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	for range 5 {
		_, err := snapshot.Open(canceled, "app.exe")
		require.ErrorIs(t, err, ErrUpstream)
		require.ErrorIs(t, err, context.Canceled)
	}

	require.Equal(t, gobreaker.StateClosed, guard.breaker.State())

	asset, err := snapshot.Open(context.Background(), "app.exe")
	require.NoError(t, err)
	require.NoError(t, asset.Body.Close())
}

// TestNewGuard_Disabled returns nil when nothing is enabled and a nil guard passes through.
func TestNewGuard_Disabled(t *testing.T) {
	t.Parallel()

	require.Nil(t, NewGuard(context.Background(), nil))
	require.Nil(t, NewGuard(context.Background(), &GuardOptions{}))

	var g *Guard

	resp, err := g.Do(context.Background(), func() (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK}, nil
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	limited := NewGuard(context.Background(), &GuardOptions{RateLimit: 0.001, RateBurst: 1})
	require.NotNil(t, limited)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = limited.Do(ctx, func() (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK}, nil
	})
	require.Error(t, err)
}

// TestBaseURL renders loopback for unspecified hosts.
func TestBaseURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "http://127.0.0.1:7748", BaseURL(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7748}))
	require.Equal(t, "http://127.0.0.1:7748", BaseURL(&net.TCPAddr{IP: net.IPv4zero, Port: 7748}))
	require.Equal(t, "http://127.0.0.1:7748", BaseURL(&net.TCPAddr{Port: 7748}))
	require.Equal(t, "http://[::1]:7748", BaseURL(&net.TCPAddr{IP: net.IPv6unspecified, Port: 7748}))
	require.Equal(t, "http://192.168.1.10:80", BaseURL(&net.TCPAddr{IP: net.ParseIP("192.168.1.10"), Port: 80}))
}
