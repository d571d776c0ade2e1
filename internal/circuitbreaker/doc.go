// Package circuitbreaker stops forwarding to an upstream that keeps failing.
//
// Each route gets its own breaker with three states:
//
//   - CLOSED: normal operation, requests pass through
//   - OPEN: upstream failing, requests are refused with 503
//   - HALF-OPEN: one probe request is let through to test recovery
//
// A threshold of zero disables breaking entirely.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 30*time.Second)
//	cb := registry.GetBreaker("127.0.0.1:8080")
//	if cb.Allow() {
//	    // Forward...
//	    if err != nil {
//	        cb.RecordFailure()
//	    } else {
//	        cb.RecordSuccess()
//	    }
//	}
package circuitbreaker
