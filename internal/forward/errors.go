package forward

import (
	"context"
	"errors"
	"net"
	"net/http"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

// statusFor maps an upstream round-trip error onto the status returned to
// the client.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusGatewayTimeout
	}

	return http.StatusBadGateway
}

// clientGone reports whether the inbound request was abandoned by the client.
func clientGone(r *http.Request) bool {
	return errors.Is(r.Context().Err(), context.Canceled)
}
