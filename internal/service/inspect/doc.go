// Package inspect resolves the latest release without serving it and reports
// what the proxy would mirror, optionally comparing it with a running version.
package inspect
