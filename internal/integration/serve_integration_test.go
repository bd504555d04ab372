package integration

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/priv-updater/internal/config"
	"github.com/oshokin/priv-updater/internal/service/serve"
	"github.com/oshokin/priv-updater/internal/service/status"
	"github.com/oshokin/priv-updater/internal/updater"
)

// TestServe_HealthAndAdmin runs the serve command with both endpoints enabled and checks
// they follow the proxy through its lifecycle.
//
//nolint:funlen // One scenario from start to shutdown.
func TestServe_HealthAndAdmin(t *testing.T) {
	t.Parallel()

	api := newGitHub(t)
	healthAddr := reservePort(t)
	adminAddr := reservePort(t)

	cfgPath := filepath.Join(t.TempDir(), "settings.yaml")
	contents := `github:
  account: Acme
  repository: App
  token: t1
  api_url: ` + api.URL + `
listen_address: 127.0.0.1:0
health:
  address: ` + healthAddr + `
admin:
  address: ` + adminAddr + `
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(contents), config.DefaultFilePermissions))

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan *updater.PrivUpdater, 1)
	done := make(chan error, 1)

	go func() {
		done <- serve.Run(ctx, &serve.Options{
			ConfigPath: cfgPath,
			Started: func(u *updater.PrivUpdater) {
				started <- u
			},
		})
	}()

	var u *updater.PrivUpdater

	select {
	case u = <-started:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not start")
	}

	var out bytes.Buffer

	require.NoError(t, status.Run(context.Background(), &status.Options{
		HealthAddress: healthAddr,
		Timeout:       2 * time.Second,
		Out:           &out,
	}))
	require.Contains(t, out.String(), `"SERVING"`)

	code, _ := get(t, "http://"+adminAddr+"/readyz")
	require.Equal(t, http.StatusOK, code)

	code, _ = get(t, u.BaseURL()+"/latest.json")
	require.Equal(t, http.StatusOK, code)

	code, body := get(t, "http://"+adminAddr+"/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), `priv_updater_requests_total{kind="manifest",outcome="ok"} 1`)
	require.Contains(t, string(body), "go_goroutines")

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}

	require.Equal(t, updater.StateStopped, u.State())

	// Both endpoints go away with the proxy.
	err := status.Run(context.Background(), &status.Options{
		HealthAddress: healthAddr,
		Timeout:       500 * time.Millisecond,
		Out:           &out,
	})
	require.Error(t, err)
}
