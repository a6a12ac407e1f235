package relay

import (
	"errors"
	"sync"
	"time"
)

var errMockClosed = errors.New("mock connection closed")

type mockConn struct {
	id string

	mu         sync.Mutex
	received   [][]byte
	closed     bool
	terminated int
	pings      int
	sendErr    error
	pingErr    error
	pingDelay  time.Duration
}

func newMockConn(id string) *mockConn {
	return &mockConn{id: id}
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errMockClosed
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, append([]byte(nil), data...))
	return nil
}

func (m *mockConn) IsAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

func (m *mockConn) Ping() error {
	time.Sleep(m.pingDelay)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	return m.pingErr
}

func (m *mockConn) Terminate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated++
	m.closed = true
	return nil
}

func (m *mockConn) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *mockConn) frames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.received))
	for i, b := range m.received {
		out[i] = string(b)
	}
	return out
}

func (m *mockConn) reset() {
	m.mu.Lock()
	m.received = nil
	m.mu.Unlock()
}

func (m *mockConn) pingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

func (m *mockConn) terminateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminated
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	rooms  []string
	frames []string
}

func (p *recordingPublisher) Publish(room string, frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rooms = append(p.rooms, room)
	p.frames = append(p.frames, string(frame))
	return nil
}

func (p *recordingPublisher) published() ([]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.rooms...), append([]string(nil), p.frames...)
}

// checkInvariants fails if any room is empty or membership is not mirrored
// between the room map and the sessions.
func checkInvariants(r *Registry) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for room, members := range r.rooms {
		if len(members) == 0 {
			return errors.New("empty room " + room + " still registered")
		}
		for id, s := range members {
			if r.sessions[id] != s {
				return errors.New("member " + id + " of " + room + " is not tracked")
			}
			if s.room != room {
				return errors.New("member " + id + " thinks it is in " + s.room + " not " + room)
			}
		}
	}
	for id, s := range r.sessions {
		if s.room == "" {
			continue
		}
		if _, ok := r.rooms[s.room][id]; !ok {
			return errors.New("session " + id + " missing from room " + s.room)
		}
	}
	return nil
}
