package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/oauth2"

	"github.com/oshokin/priv-updater/internal/logger"
)

const (
	// DefaultAPIBaseURL is the public GitHub API root.
	DefaultAPIBaseURL = "https://api.github.com"

	// APIVersion is the GitHub REST API version the proxy speaks.
	APIVersion = "2022-11-28"

	// MediaTypeRelease asks the API for release metadata.
	MediaTypeRelease = "application/vnd.github+json"

	// MediaTypeAsset asks the API for the raw bytes of an asset.
	MediaTypeAsset = "application/octet-stream"

	headerAPIVersion = "X-GitHub-Api-Version"
	headerAccept     = "Accept"
	headerUserAgent  = "User-Agent"

	// statusSnippetLimit caps how much of an error body ends up in the error message.
	statusSnippetLimit = 512
)

// errNoAPIHost is returned for an API root without a host, which could never receive the token.
var errNoAPIHost = errors.New("api url has no host")

// Options are the inputs of Resolve.
type Options struct {
	// Account owns the repository. Case-insensitivity is GitHub's concern.
	Account string
	// Repository is the repository name; it doubles as User-Agent.
	Repository string
	// Token is the access token sent as a bearer credential. It is never logged.
	Token string
	// APIBaseURL overrides DefaultAPIBaseURL, e.g. for GitHub Enterprise or tests.
	APIBaseURL string
	// Timeout bounds every request made by the returned clients. Zero means none.
	Timeout time.Duration
	// Transport is the base transport. Nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// Resolve fetches the latest release and builds the asset catalog.
// Nothing is retried: every failure is returned to the caller.
func Resolve(ctx context.Context, opts *Options) (*Resolution, error) {
	headers, err := defaultHeaders(opts)
	if err != nil {
		return nil, err
	}

	endpoint, err := latestReleaseURL(opts)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Resolving latest release", "account", opts.Account, "repository", opts.Repository)

	metadataClient := newClient(opts, endpoint.Host, withAccept(headers, MediaTypeRelease))

	rel, err := fetchLatest(ctx, metadataClient, endpoint.String())
	if err != nil {
		return nil, err
	}

	if len(rel.Assets) == 0 {
		return nil, fmt.Errorf("%s/%s %s: %w", opts.Account, opts.Repository, rel.TagName, ErrNoAssets)
	}

	base, err := DownloadURLBase(rel.Assets[0].BrowserDownloadURL)
	if err != nil {
		return nil, err
	}

	resolution := &Resolution{
		Release:         rel,
		Catalog:         NewCatalog(rel.Assets),
		DownloadURLBase: base,
		Client:          newClient(opts, endpoint.Host, withAccept(headers, MediaTypeAsset)),
	}

	logger.InfoKV(
		ctx,
		"Latest release resolved",
		"tag", rel.TagName,
		"assets", len(rel.Assets),
		"download_url_base", base,
	)

	return resolution, nil
}

// DownloadURLBase strips the last path segment from an asset download URL.
func DownloadURLBase(downloadURL string) (string, error) {
	idx := strings.LastIndexByte(downloadURL, '/')
	if idx <= 0 {
		return "", fmt.Errorf("%q: %w", downloadURL, ErrNoDownloadBase)
	}

	return downloadURL[:idx], nil
}

// defaultHeaders validates the inputs that end up in headers and returns the
// headers shared by both clients. Authorization is added by the oauth2 transport.
func defaultHeaders(opts *Options) (http.Header, error) {
	if !httpguts.ValidHeaderFieldValue("Bearer " + opts.Token) {
		// The value itself is a secret and stays out of the message.
		return nil, fmt.Errorf("authorization: %w", ErrInvalidHeader)
	}

	if opts.Repository == "" || !httpguts.ValidHeaderFieldValue(opts.Repository) {
		return nil, fmt.Errorf("%s %q: %w", strings.ToLower(headerUserAgent), opts.Repository, ErrInvalidHeader)
	}

	headers := make(http.Header, 3)
	headers.Set(headerAPIVersion, APIVersion)
	headers.Set(headerUserAgent, opts.Repository)

	return headers, nil
}

func withAccept(headers http.Header, mediaType string) http.Header {
	h := headers.Clone()
	h.Set(headerAccept, mediaType)

	return h
}

func latestReleaseURL(opts *Options) (*url.URL, error) {
	base := opts.APIBaseURL
	if base == "" {
		base = DefaultAPIBaseURL
	}

	endpoint, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}

	if endpoint.Host == "" {
		return nil, fmt.Errorf("api url %q: %w", base, errNoAPIHost)
	}

	return endpoint.JoinPath("repos", opts.Account, opts.Repository, "releases", "latest"), nil
}

// newClient builds a client sending the given default headers everywhere and the
// bearer token only to apiHost. Asset downloads redirect to pre-signed storage
// URLs on other hosts, which must never see the token.
func newClient(opts *Options, apiHost string, headers http.Header) *http.Client {
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	plain := &headerTransport{base: base, headers: headers}

	source := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: opts.Token,
		TokenType:   "Bearer",
	})

	return &http.Client{
		Transport: &hostScopedTransport{
			host:   apiHost,
			authed: &oauth2.Transport{Source: source, Base: plain},
			plain:  plain,
		},
		Timeout: opts.Timeout,
	}
}

func fetchLatest(ctx context.Context, client *http.Client, endpoint string) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build release request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request latest release: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, statusSnippetLimit))

		return nil, fmt.Errorf("%s, %s %s: %w", endpoint, resp.Status, strings.TrimSpace(string(snippet)), ErrUnexpectedStatus)
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decode latest release: %w", err)
	}

	return &rel, nil
}
