package relay

import (
	"sync"
	"sync/atomic"
	"time"
)

// Conn is the transport-side handle of one live connection.
//
// Implementations must be safe for concurrent use and Send must not block:
// a slow or dead peer has to fail fast so fanout to the rest of the room is
// not held up.
type Conn interface {
	// ID is stable for the lifetime of the connection and unique among live
	// connections.
	ID() string
	// Send queues one frame for delivery.
	Send(data []byte) error
	// IsAlive reports whether the transport is still open.
	IsAlive() bool
	// Ping sends a liveness probe. The answer is reported through
	// Engine.OnProbeResponse.
	Ping() error
	// Terminate closes the transport immediately, without a close handshake.
	Terminate() error
}

// session is the registry-owned state of a tracked connection.
type session struct {
	conn Conn

	// room is guarded by Registry.mu; empty means no membership.
	room string

	// alive is cleared by every heartbeat probe and set by its answer.
	alive atomic.Bool

	mu          sync.Mutex
	count       int
	windowStart time.Time
}

func newSession(c Conn, now time.Time) *session {
	s := &session{
		conn:        c,
		windowStart: now,
	}
	s.alive.Store(true)
	return s
}

// admit counts one frame against the fixed window containing now and reports
// whether the window is still within limit. Windows are aligned to the
// session's start, so the counter resets on a fixed cadence without a timer.
func (s *session) admit(now time.Time, limit int, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elapsed := now.Sub(s.windowStart); elapsed >= window {
		s.windowStart = s.windowStart.Add(elapsed.Truncate(window))
		s.count = 0
	}
	s.count++
	return s.count <= limit
}
