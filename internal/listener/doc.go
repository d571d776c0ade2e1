// Package listener binds and serves one HTTP listener per route.
//
// All routes are bound before any of them serves, so a port conflict aborts
// startup with nothing accepting connections. Each successful bind is logged
// as "<host>:<port> > <destination>".
package listener
