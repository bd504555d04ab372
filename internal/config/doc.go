// Package config defines the proxy settings and helpers to load, validate
// and save them.
//
// Settings live in a YAML file; every key can be overridden by an environment
// variable prefixed with PRIV_UPDATER_ (dots become underscores, e.g.
// PRIV_UPDATER_GITHUB_TOKEN). The access token is never written by Save.
package config
