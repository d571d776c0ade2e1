package metrics

import (
	"sort"
	"sync"
	"time"
)

// maxSamples bounds the latency window kept per route.
const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	routes        map[string]struct{}
	requests      map[string]int64
	completed     map[string]int64
	failures      map[string]int64
	rejected      map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	healthStatus  map[string]bool
	lastRequest   map[string]time.Time
	healthChanged map[string]time.Time
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests int64                   `json:"total_requests"`
	Uptime        time.Duration           `json:"uptime"`
	Routes        map[string]RouteMetrics `json:"routes"`
}

type RouteMetrics struct {
	Requests    int64         `json:"requests"`
	Completed   int64         `json:"completed"`
	Failures    int64         `json:"failures"`
	Rejected    int64         `json:"rejected"`
	Healthy     bool          `json:"healthy"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
	StatusCodes map[int]int64 `json:"status_codes"`
	// LastRequest and HealthChanged are zero until the first such event.
	LastRequest   time.Time `json:"last_request,omitzero"`
	HealthChanged time.Time `json:"health_changed,omitzero"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		routes:        make(map[string]struct{}),
		requests:      make(map[string]int64),
		completed:     make(map[string]int64),
		failures:      make(map[string]int64),
		rejected:      make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		healthStatus:  make(map[string]bool),
		lastRequest:   make(map[string]time.Time),
		healthChanged: make(map[string]time.Time),
		startTime:     time.Now(),
	}
}

// AddRoute records a route as known and healthy. It is a no-op for routes
// already seen.
func (m *Metrics) AddRoute(route string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.routes[route]; ok {
		return
	}
	m.routes[route] = struct{}{}
	m.healthStatus[route] = true
}

func (m *Metrics) touch(route string) {
	if _, ok := m.routes[route]; !ok {
		m.routes[route] = struct{}{}
		m.healthStatus[route] = true
	}
}

// IncrementRequests counts a request received at the given time.
func (m *Metrics) IncrementRequests(route string, at time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.touch(route)
	m.requests[route]++
	if at.After(m.lastRequest[route]) {
		m.lastRequest[route] = at
	}
}

func (m *Metrics) RecordResponse(route string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.touch(route)

	m.completed[route]++
	m.responseTimes[route] = append(m.responseTimes[route], duration)

	if len(m.responseTimes[route]) > maxSamples {
		m.responseTimes[route] = m.responseTimes[route][1:]
	}

	if m.statusCodes[route] == nil {
		m.statusCodes[route] = make(map[int]int64)
	}
	m.statusCodes[route][statusCode]++
}

func (m *Metrics) RecordFailure(route string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.touch(route)
	m.failures[route]++
}

func (m *Metrics) RecordRejection(route string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.touch(route)
	m.rejected[route]++
}

// UpdateHealthStatus records a health transition observed at the given time.
func (m *Metrics) UpdateHealthStatus(route string, healthy bool, at time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.touch(route)
	m.healthStatus[route] = healthy
	m.healthChanged[route] = at
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime: time.Since(m.startTime),
		Routes: make(map[string]RouteMetrics, len(m.routes)),
	}

	for route := range m.routes {
		snap.TotalRequests += m.requests[route]

		rm := RouteMetrics{
			Requests:    m.requests[route],
			Completed:   m.completed[route],
			Failures:    m.failures[route],
			Rejected:    m.rejected[route],
			Healthy:     m.healthStatus[route],
			StatusCodes: make(map[int]int64, len(m.statusCodes[route])),

			LastRequest:   m.lastRequest[route],
			HealthChanged: m.healthChanged[route],
		}
		for code, n := range m.statusCodes[route] {
			rm.StatusCodes[code] = n
		}

		durations := m.responseTimes[route]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			rm.AvgResponse = average(sorted)
			rm.P50Response = percentile(sorted, 0.50)
			rm.P95Response = percentile(sorted, 0.95)
			rm.P99Response = percentile(sorted, 0.99)
		}

		snap.Routes[route] = rm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
