// Package status queries the health endpoint of a running proxy.
package status
