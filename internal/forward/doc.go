// Package forward relays requests received on a route's listener to the
// route's fixed upstream URL.
//
// A Pipeline is an http.Handler. For each request it optionally waits for an
// admission slot and consults the route's circuit breaker, then issues a copy
// of the request (same method and headers, no body) to the destination URL
// exactly as configured. The response status, headers and body are streamed
// back with the route's injected headers applied on top. Each completed
// forward produces one log line:
//
//	127.0.0.1:8080 /path GET > https://api.example.com/v1 (42 ms)
//
// Upstream connection and TLS failures answer 502, timeouts 504, and refused
// admission or an open breaker 503.
package forward
