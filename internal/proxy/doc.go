// Package proxy serves release assets of a private repository to clients that
// cannot authenticate.
//
// A Snapshot bundles everything a request needs (catalog, authenticated
// client, upstream download prefix and the proxy's own base URL). It is built
// once per listener and never mutated, so requests share it without locking.
// The manifest asset is rewritten so that its download URLs point at the
// proxy; every other asset is streamed through byte for byte.
package proxy
