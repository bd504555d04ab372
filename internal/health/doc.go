// Package health exposes the proxy status over the standard gRPC health
// protocol (grpc.health.v1.Health) and provides a small client for it.
//
// The host application or an operator can poll it to learn whether the
// release proxy is serving without touching the proxy port itself.
package health
