// Package metrics is a minimal, concurrency-safe counter registry for the
// signaling hub, exposed over HTTP in Prometheus text format.
package metrics

import "sync"

// Counter names. Each is exported as its own signalhub_<name>_total
// Prometheus series (see prometheus.go).
const (
	ConnectionsAccepted = "connections_accepted"
	ConnectionsClosed   = "connections_closed"
	FramesMalformed     = "frames_malformed_discarded"
	RelayAuthSuccess    = "relay_auth_success"
	RelayAuthFailure    = "relay_auth_failure"
	RelayPairsCreated   = "relay_pairs_created"
	RelayPairsRemoved   = "relay_pairs_removed"
	RelayDataForwarded  = "relay_data_forwarded"
)

// dispatchedPrefix is prepended to a wire.Tag to build the per-tag dispatch
// counter name, e.g. "frames_dispatched_offer".
const dispatchedPrefix = "frames_dispatched_"

// Metrics is a minimal, concurrency-safe counter registry. The hub plugs
// into this directly rather than a heavier client library: the counter set
// is small, fixed, and known at compile time.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

// New creates an empty registry.
func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

// Inc increments the named counter by one.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

// Add increments the named counter by delta.
func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

// IncDispatched increments the per-tag dispatch counter for tag.
func (m *Metrics) IncDispatched(tag string) {
	m.Inc(dispatchedPrefix + tag)
}

// Get reads the current value of the named counter.
func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a point-in-time copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		snap[k] = v
	}
	return snap
}
