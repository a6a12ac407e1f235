package metrics

import "sync"

// Event names recorded by the relay.
const (
	ConnectionOpened = "connection_opened"
	ConnectionClosed = "connection_closed"

	Join       = "join"
	Broadcast  = "broadcast"
	Delivered  = "delivered"
	SendFailed = "send_failed"

	DroppedOversize    = "dropped_oversize"
	DroppedRateLimited = "dropped_rate_limited"
	DroppedMalformed   = "dropped_malformed"
	DroppedInvalidJoin = "dropped_invalid_join"
	DroppedNoRoom      = "dropped_no_room"
	DroppedUntracked   = "dropped_untracked"

	HeartbeatProbe   = "heartbeat_probe"
	HeartbeatEvicted = "heartbeat_evicted"

	UpgradeRejected = "upgrade_rejected"

	BridgePublished = "bridge_published"
	BridgeDelivered = "bridge_delivered"
	BridgeDropped   = "bridge_dropped"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A nil *Metrics is valid and records nothing, so components can take one
// optionally.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
