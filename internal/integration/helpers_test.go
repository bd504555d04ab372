package integration

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// manifestTemplate is a Tauri-style update manifest pointing at the public download base.
const manifestTemplate = `{
  "version": "1.0.1",
  "platforms": {
    "windows-x86_64": {"url": "https://dl.example.com/v1/App_1.0.1_x64.msi.zip", "signature": "c2ln"},
    "darwin-aarch64": {"url": "https://dl.example.com/v1/App.app.tar.gz", "signature": "c2ln"}
  }
}`

// binaryAsset is served byte for byte.
var binaryAsset = []byte{0x50, 0x4b, 0x03, 0x04, 0x00, 0xff, 0x10, 0x0a, 0x0d}

// newGitHub fakes the release API of Acme/App. Requests without the t1 token are rejected.
func newGitHub(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	var srv *httptest.Server

	authorized := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer t1" || r.Header.Get("User-Agent") != "App" {
				http.Error(w, "Bad credentials", http.StatusUnauthorized)
				return
			}

			next(w, r)
		}
	}

	mux.HandleFunc("/repos/Acme/App/releases/latest", authorized(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, strings.ReplaceAll(`{"tag_name":"t1","name":"t1","assets":[
			{"name":"latest.json","url":"{{api}}/repos/Acme/App/releases/assets/1","browser_download_url":"https://dl.example.com/v1/latest.json"},
			{"name":"App_1.0.1_x64.msi.zip","url":"{{api}}/repos/Acme/App/releases/assets/2","browser_download_url":"https://dl.example.com/v1/App_1.0.1_x64.msi.zip"}]}`,
			"{{api}}", srv.URL))
	}))
	mux.HandleFunc("/repos/Acme/App/releases/assets/1", authorized(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, manifestTemplate)
	}))
	mux.HandleFunc("/repos/Acme/App/releases/assets/2", authorized(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(binaryAsset)
	}))

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

// reservePort returns a loopback address that was free a moment ago.
func reservePort(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	_ = l.Close()

	return addr
}

// get performs a GET and returns the status and body.
func get(t *testing.T, target string) (int, []byte) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, body
}
