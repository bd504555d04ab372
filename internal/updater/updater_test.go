package updater

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/priv-updater/internal/binder"
	"github.com/oshokin/priv-updater/internal/release"
)

const testManifest = `{"version":"1.2.0","platforms":{"windows-x86_64":{"url":"https://dl.example.com/v1/app.exe"}}}`

// newGitHub starts a fake GitHub API with a two-asset latest release.
func newGitHub(t *testing.T, assets bool) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	var srv *httptest.Server

	mux.HandleFunc("/repos/Acme/App/releases/latest", func(w http.ResponseWriter, _ *http.Request) {
		if !assets {
			_, _ = io.WriteString(w, `{"tag_name":"v1.2.0","assets":[]}`)
			return
		}

		_, _ = io.WriteString(w, strings.ReplaceAll(`{"tag_name":"v1.2.0","assets":[
			{"name":"latest.json","url":"{{api}}/assets/1","browser_download_url":"https://dl.example.com/v1/latest.json"},
			{"name":"app.exe","url":"{{api}}/assets/2","browser_download_url":"https://dl.example.com/v1/app.exe"}]}`,
			"{{api}}", srv.URL))
	})
	mux.HandleFunc("/assets/1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, testManifest)
	})
	mux.HandleFunc("/assets/2", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "MZ-binary")
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func newTestUpdater(t *testing.T, api string) *PrivUpdater {
	t.Helper()

	u, err := New(context.Background(), &Options{
		Account:    "Acme",
		Repository: "App",
		Token:      "t1",
		Address:    "127.0.0.1:0",
		APIBaseURL: api,
	})
	require.NoError(t, err)

	return u
}

func fetch(t *testing.T, target string) (int, string) {
	t.Helper()

	resp, err := http.Get(target) //nolint:noctx // Test helper.
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

// TestPrivUpdater_ServeAndShutdown walks the whole lifecycle.
func TestPrivUpdater_ServeAndShutdown(t *testing.T) {
	t.Parallel()

	api := newGitHub(t, true)
	u := newTestUpdater(t, api.URL)

	require.Equal(t, StateUnbound, u.State())
	require.Nil(t, u.Addr())
	require.Equal(t, "v1.2.0", u.Release().TagName)
	require.Equal(t, "https://dl.example.com/v1", u.DownloadURLBase())
	require.Equal(t, []string{"app.exe", "latest.json"}, u.Assets())

	shutdown, err := u.Serve(context.Background())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.Equal(t, StateServing, u.State())
	require.NotZero(t, u.Addr().Port)

	status, body := fetch(t, u.BaseURL()+"/latest.json")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, strings.ReplaceAll(testManifest, "https://dl.example.com/v1", u.BaseURL()), body)

	status, body = fetch(t, u.BaseURL()+"/app.exe")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "MZ-binary", body)

	status, _ = fetch(t, u.BaseURL()+"/missing.zip")
	require.Equal(t, http.StatusNotFound, status)

	u.Shutdown()
	require.NoError(t, u.Wait())
	require.Equal(t, StateStopped, u.State())

	// The socket is released.
	_, err = net.DialTimeout("tcp", u.Addr().String(), time.Second)
	require.Error(t, err)

	// Idempotent shutdown, both through the handle and the returned capability.
	u.Shutdown()
	shutdown()

	// No restart.
	_, err = u.Serve(context.Background())
	require.ErrorIs(t, err, ErrAlreadyServed)
}

// TestPrivUpdater_ShutdownBeforeServe is a silent no-op.
func TestPrivUpdater_ShutdownBeforeServe(t *testing.T) {
	t.Parallel()

	u := newTestUpdater(t, newGitHub(t, true).URL)

	u.Shutdown()
	u.Shutdown()

	require.NoError(t, u.Wait())
	require.Nil(t, u.Done())
	require.Equal(t, StateUnbound, u.State())
}

// TestPrivUpdater_ContextCancelStops verifies the serve context also stops the listener.
func TestPrivUpdater_ContextCancelStops(t *testing.T) {
	t.Parallel()

	u := newTestUpdater(t, newGitHub(t, true).URL)

	ctx, cancel := context.WithCancel(context.Background())

	_, err := u.Serve(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case <-u.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("proxy did not stop after context cancellation")
	}

	require.NoError(t, u.Wait())
	require.Equal(t, StateStopped, u.State())
}

// TestNew_FailsWithoutAssets ensures no PrivUpdater is produced for an empty release.
func TestNew_FailsWithoutAssets(t *testing.T) {
	t.Parallel()

	api := newGitHub(t, false)

	u, err := New(context.Background(), &Options{
		Account:    "Acme",
		Repository: "App",
		Token:      "t1",
		APIBaseURL: api.URL,
	})
	require.ErrorIs(t, err, release.ErrNoAssets)
	require.Nil(t, u)
}

// TestPrivUpdater_BindFailure leaves the updater unbound and reports the port search error.
func TestPrivUpdater_BindFailure(t *testing.T) {
	t.Parallel()

	api := newGitHub(t, true)

	busy := func(_ context.Context, network, _ string) (net.Listener, error) {
		return nil, &net.OpError{Op: "listen", Net: network, Err: syscall.EADDRINUSE}
	}

	u, err := New(context.Background(), &Options{
		Account:    "Acme",
		Repository: "App",
		Token:      "t1",
		APIBaseURL: api.URL,
		Bind:       &binder.Policy{MaxRetries: 10, Listen: busy},
	})
	require.NoError(t, err)

	_, err = u.Serve(context.Background())
	require.ErrorIs(t, err, binder.ErrNoUsablePort)
	require.Equal(t, StateUnbound, u.State())
	require.NoError(t, u.Wait())
	u.Shutdown()
}

// TestState_String covers state names used in logs.
func TestState_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "unbound", StateUnbound.String())
	require.Equal(t, "serving", StateServing.String())
	require.Equal(t, "shutting_down", StateShuttingDown.String())
	require.Equal(t, "stopped", StateStopped.String())
	require.Equal(t, "unknown", State(42).String())
}
