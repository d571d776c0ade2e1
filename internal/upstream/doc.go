// Package upstream holds per-route upstream state (active forwards, response
// time EWMA, health) and builds the single HTTP transport shared by every
// route.
package upstream
