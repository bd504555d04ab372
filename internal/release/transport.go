package release

import (
	"net/http"
	"strings"
)

// headerTransport adds a fixed set of default headers to every request.
// Headers already present on the request win.
type headerTransport struct {
	// base performs the actual round trip.
	base http.RoundTripper
	// headers are applied to requests that do not set them.
	headers http.Header
}

// RoundTrip implements http.RoundTripper without mutating the caller's request.
func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	for name, values := range t.headers {
		if clone.Header.Get(name) != "" {
			continue
		}

		for _, v := range values {
			clone.Header.Add(name, v)
		}
	}

	return t.base.RoundTrip(clone)
}

// hostScopedTransport sends requests for one host through the authenticated
// transport and everything else, redirect targets included, through plain.
type hostScopedTransport struct {
	// host is the host[:port] the credentials belong to.
	host string
	// authed adds the credentials.
	authed http.RoundTripper
	// plain serves every other host.
	plain http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *hostScopedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.EqualFold(req.URL.Host, t.host) {
		return t.authed.RoundTrip(req)
	}

	return t.plain.RoundTrip(req)
}
