// Package admin serves the operational HTTP endpoints of the proxy:
// Prometheus metrics, liveness and readiness.
package admin
