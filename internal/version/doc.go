// Package version holds build metadata for priv-updater.
//
// Version, Commit and BuildTime are injected with -ldflags at build time.
package version
