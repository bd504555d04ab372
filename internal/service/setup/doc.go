// Package setup writes an initial settings file for the release proxy.
package setup
