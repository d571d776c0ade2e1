package upstream

import (
	"net/url"
	"sync"
	"time"
)

// Upstream tracks the fixed destination of one route: in-flight forwards,
// response time and last known health.
type Upstream struct {
	url              *url.URL
	mutex            sync.Mutex
	isHealthy        bool
	activeForwards   int
	ewmaResponseTime time.Duration
	hasEWMA          bool
}

const ewmaAlpha = 0.2

// IncrementActive increments the in-flight forward count.
func (u *Upstream) IncrementActive() {
	u.mutex.Lock()
	u.activeForwards++
	u.mutex.Unlock()
}

// DecrementActive decrements the in-flight forward count.
func (u *Upstream) DecrementActive() {
	u.mutex.Lock()
	if u.activeForwards > 0 {
		u.activeForwards--
	}
	u.mutex.Unlock()
}

// ActiveForwards returns the current number of in-flight forwards.
func (u *Upstream) ActiveForwards() int {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.activeForwards
}

// URL returns a copy of the destination URL.
func (u *Upstream) URL() *url.URL {
	c := *u.url
	return &c
}

// IsHealthy returns true if the last probe succeeded, or no probe ran yet.
func (u *Upstream) IsHealthy() bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.isHealthy
}

// SetHealthy updates the health status.
// Returns true if the status changed, false if it was already in that state.
func (u *Upstream) SetHealthy(healthy bool) (changed bool) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if u.isHealthy == healthy {
		return false
	}

	u.isHealthy = healthy
	return true
}

// RecordResponse updates the exponentially weighted moving average (EWMA)
// response time using the latest forward duration.
func (u *Upstream) RecordResponse(duration time.Duration) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if !u.hasEWMA {
		u.ewmaResponseTime = duration
		u.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	u.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(u.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns the exponentially weighted moving average response time.
// Returns 0 if no responses have been recorded yet.
func (u *Upstream) EWMATime() time.Duration {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if !u.hasEWMA {
		return 0
	}

	return u.ewmaResponseTime
}

// New creates an Upstream for the given destination.
// It starts in a healthy state.
func New(destination *url.URL) *Upstream {
	c := *destination
	return &Upstream{
		url:       &c,
		isHealthy: true,
	}
}

// Stats is the JSON view of an Upstream served on /stats.
type Stats struct {
	Destination    string  `json:"destination"`
	Healthy        bool    `json:"healthy"`
	ActiveForwards int     `json:"active_forwards"`
	EWMAResponse   float64 `json:"ewma_response_ms"`
}

// Stats returns a consistent view of the upstream's state.
func (u *Upstream) Stats() Stats {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	s := Stats{
		Destination:    u.url.String(),
		Healthy:        u.isHealthy,
		ActiveForwards: u.activeForwards,
	}
	if u.hasEWMA {
		s.EWMAResponse = float64(u.ewmaResponseTime) / float64(time.Millisecond)
	}

	return s
}

// Set indexes upstreams by route source. Routes sharing a source keep the
// upstream added last.
type Set map[string]*Upstream

// Stats returns the state of every upstream in the set.
func (s Set) Stats() map[string]Stats {
	out := make(map[string]Stats, len(s))
	for route, u := range s {
		out[route] = u.Stats()
	}
	return out
}
