// Package metrics provides lightweight request counters using atomic
// operations so they impose no measurable overhead on the request path.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics tracks aggregate statistics for the proxy engine.
//
// All counters are accessed exclusively through atomic operations: no mutex
// contention under concurrent request handling, and the struct may be passed
// as a pointer without additional synchronisation.
type Metrics struct {
	// TotalRequests counts proxied requests accepted by the orchestrator.
	TotalRequests uint64

	// Success counts requests whose final upstream response had a 2xx or
	// 3xx status.
	Success uint64

	// Failed counts requests that ended in a transport error, a redirect
	// error, or a 4xx/5xx final status.
	Failed uint64

	startTime time.Time
}

// NewMetrics creates a Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// IncrementTotal atomically increments the total-requests counter.
func (m *Metrics) IncrementTotal() {
	atomic.AddUint64(&m.TotalRequests, 1)
}

// IncrementSuccess atomically increments the successful-requests counter.
func (m *Metrics) IncrementSuccess() {
	atomic.AddUint64(&m.Success, 1)
}

// IncrementFailed atomically increments the failed-requests counter.
func (m *Metrics) IncrementFailed() {
	atomic.AddUint64(&m.Failed, 1)
}

// RequestsPerSecond returns the average request rate since startup, or 0 in
// the first instant to avoid division by zero.
func (m *Metrics) RequestsPerSecond() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&m.TotalRequests)) / elapsed
}

// Snapshot returns a point-in-time copy of the counters.  The three loads
// are not taken under one lock, so the snapshot may be inconsistent at
// nanosecond granularity, which is acceptable for monitoring.
func (m *Metrics) Snapshot() (total, success, failed uint64) {
	return atomic.LoadUint64(&m.TotalRequests),
		atomic.LoadUint64(&m.Success),
		atomic.LoadUint64(&m.Failed)
}
