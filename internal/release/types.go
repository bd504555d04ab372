package release

import (
	"net/http"
	"slices"
	"strings"

	"golang.org/x/mod/semver"
)

// Asset is a single file attached to a release.
type Asset struct {
	// Name is the filename the asset is served under.
	Name string `json:"name"`
	// URL is the API location of the asset; it requires authentication.
	URL string `json:"url"`
	// BrowserDownloadURL is the public-form download link of the asset.
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Release is the subset of a GitHub release the proxy needs.
type Release struct {
	// TagName is the git tag of the release, usually a semantic version.
	TagName string `json:"tag_name"`
	// Name is the human-readable title.
	Name string `json:"name"`
	// Assets lists the files attached to the release.
	Assets []Asset `json:"assets"`
}

// IsNewerThan reports whether the release tag is a newer semantic version than current.
// A "dev" current version is always considered older.
func (r *Release) IsNewerThan(current string) (bool, error) {
	current = canonicalVersion(current)
	if current == "vdev" {
		return true, nil
	}

	latest := canonicalVersion(r.TagName)

	if !semver.IsValid(current) {
		return false, &VersionError{Version: current}
	}

	if !semver.IsValid(latest) {
		return false, &VersionError{Version: latest}
	}

	return semver.Compare(current, latest) < 0, nil
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}

	return v
}

// Catalog maps asset filenames to their authenticated fetch URLs.
// It is built once and only read afterwards.
type Catalog map[string]string

// NewCatalog builds a catalog from release assets.
func NewCatalog(assets []Asset) Catalog {
	c := make(Catalog, len(assets))
	for _, a := range assets {
		c[a.Name] = a.URL
	}

	return c
}

// Lookup returns the fetch URL of filename. Names are case-sensitive.
func (c Catalog) Lookup(filename string) (string, bool) {
	u, ok := c[filename]

	return u, ok
}

// Names returns the catalog filenames in sorted order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Resolution is the outcome of a successful Resolve.
type Resolution struct {
	// Release is the decoded latest release.
	Release *Release
	// Catalog maps filenames to authenticated fetch URLs.
	Catalog Catalog
	// DownloadURLBase is the public download prefix shared by the assets.
	DownloadURLBase string
	// Client fetches assets; its default headers ask for raw bytes.
	Client *http.Client
}
