// Package serve runs the release proxy as a long-lived process: it loads the
// configuration, resolves the latest release, serves it until the context is
// canceled and exposes the optional health and admin endpoints meanwhile.
package serve
