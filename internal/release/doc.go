// Package release resolves the latest release of a private GitHub repository.
//
// Resolve performs one authenticated request to the "latest release" endpoint
// and returns the asset catalog (filename to authenticated fetch URL), the
// public download URL prefix shared by the assets, and an HTTP client whose
// default headers request raw asset bytes.
package release
