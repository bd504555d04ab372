package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/oshokin/priv-updater/internal/release"
)

// Kind classifies a requested filename.
type Kind string

const (
	// KindManifest is the update manifest, served rewritten.
	KindManifest Kind = "manifest"
	// KindAsset is any other catalog entry, served unchanged.
	KindAsset Kind = "asset"
	// KindUnknown is a name missing from the catalog.
	KindUnknown Kind = "unknown"
)

// DefaultManifestName is the manifest filename of Tauri update bundles.
const DefaultManifestName = "latest.json"

// SnapshotConfig are the inputs of NewSnapshot.
type SnapshotConfig struct {
	// Catalog maps filenames to authenticated fetch URLs.
	Catalog release.Catalog
	// Client fetches assets with credentials.
	Client *http.Client
	// DownloadURLBase is the upstream prefix replaced in the manifest.
	DownloadURLBase string
	// LocalBaseURL is the proxy's own base URL (scheme, host and port).
	LocalBaseURL string
	// ManifestName is the manifest filename. Empty means DefaultManifestName.
	ManifestName string
	// Guard limits upstream fetches. Nil means unguarded.
	Guard *Guard
}

// Snapshot is the immutable state shared by all requests of one listener.
type Snapshot struct {
	catalog         release.Catalog
	client          *http.Client
	downloadURLBase string
	localBaseURL    string
	manifestName    string
	guard           *Guard
}

// Asset is an opened asset ready to be written to a client.
type Asset struct {
	// Name is the requested filename.
	Name string
	// Kind tells whether the body was rewritten.
	Kind Kind
	// Size is the body length, or -1 when unknown.
	Size int64
	// Body must be closed by the caller.
	Body io.ReadCloser
}

// NewSnapshot captures cfg. The catalog is copied so later changes to the
// caller's map cannot leak into running requests.
func NewSnapshot(cfg *SnapshotConfig) *Snapshot {
	catalog := make(release.Catalog, len(cfg.Catalog))
	for name, fetchURL := range cfg.Catalog {
		catalog[name] = fetchURL
	}

	manifest := cfg.ManifestName
	if manifest == "" {
		manifest = DefaultManifestName
	}

	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}

	return &Snapshot{
		catalog:         catalog,
		client:          client,
		downloadURLBase: cfg.DownloadURLBase,
		localBaseURL:    cfg.LocalBaseURL,
		manifestName:    manifest,
		guard:           cfg.Guard,
	}
}

// LocalBaseURL returns the base URL written into the manifest.
func (s *Snapshot) LocalBaseURL() string {
	return s.localBaseURL
}

// KindOf classifies filename.
func (s *Snapshot) KindOf(filename string) Kind {
	if _, ok := s.catalog.Lookup(filename); !ok {
		return KindUnknown
	}

	if filename == s.manifestName {
		return KindManifest
	}

	return KindAsset
}

// Open resolves filename against the catalog and fetches it from upstream.
// Unknown names return ErrNotFound; fetch failures return *UpstreamError.
func (s *Snapshot) Open(ctx context.Context, filename string) (*Asset, error) {
	fetchURL, ok := s.catalog.Lookup(filename)
	if !ok {
		return nil, fmt.Errorf("%q: %w", filename, ErrNotFound)
	}

	resp, err := s.fetch(ctx, filename, fetchURL)
	if err != nil {
		return nil, err
	}

	if filename != s.manifestName {
		return &Asset{
			Name: filename,
			Kind: KindAsset,
			Size: resp.ContentLength,
			Body: resp.Body,
		}, nil
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Filename: filename, Err: fmt.Errorf("read manifest: %w", err)}
	}

	rewritten := []byte(Rewrite(string(text), s.downloadURLBase, s.localBaseURL))

	return &Asset{
		Name: filename,
		Kind: KindManifest,
		Size: int64(len(rewritten)),
		Body: io.NopCloser(bytes.NewReader(rewritten)),
	}, nil
}

// fetch performs the authenticated GET through the guard.
func (s *Snapshot) fetch(ctx context.Context, filename, fetchURL string) (*http.Response, error) {
	do := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, http.NoBody)
		if err != nil {
			return nil, err
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			_ = resp.Body.Close()

			return nil, &UpstreamError{Filename: filename, StatusCode: resp.StatusCode, Err: errUpstreamStatus}
		}

		return resp, nil
	}

	resp, err := s.guard.Do(ctx, do)
	if err != nil {
		var upstreamErr *UpstreamError
		if errors.As(err, &upstreamErr) {
			return nil, err
		}

		return nil, &UpstreamError{Filename: filename, Err: err}
	}

	return resp, nil
}

// Rewrite replaces every occurrence of from with to. It is a plain text
// substitution so it keeps working whatever the manifest schema looks like.
func Rewrite(text, from, to string) string {
	if from == "" {
		return text
	}

	return strings.ReplaceAll(text, from, to)
}

// BaseURL renders the externally reachable base URL of a bound address.
// Unspecified hosts are rendered as loopback.
func BaseURL(addr *net.TCPAddr) string {
	host := "127.0.0.1"

	switch {
	case addr.IP == nil:
	case addr.IP.IsUnspecified() && addr.IP.To4() == nil:
		host = "::1"
	case !addr.IP.IsUnspecified():
		host = addr.IP.String()
	}

	return "http://" + net.JoinHostPort(host, strconv.Itoa(addr.Port))
}
