// Package binder claims a local TCP address for the proxy.
//
// When the preferred port is taken, Bind walks to the next port inside a
// fixed-size block of ports (1000 by default, wrapping to the block start)
// and gives up after a bounded number of failed candidates. The block keeps
// the walk away from privileged ports; the catch is that the walk never
// leaves the block of the requested port.
package binder
