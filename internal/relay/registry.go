package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/nyxsignal"
	"github.com/luciancaetano/nyxsignal/internal/metrics"
	"github.com/luciancaetano/nyxsignal/internal/protocol"
)

// Publisher mirrors locally fanned-out frames to other relay instances.
// Publish must not block.
type Publisher interface {
	Publish(room string, frame []byte) error
}

// Registry maps room ids to their members and tracks every live connection.
//
// A single RWMutex guards the session map, the room map and each session's
// room id. Peers are snapshotted under the lock and written to after it is
// released, so no send ever happens while the lock is held.
type Registry struct {
	log       zerolog.Logger
	metrics   *metrics.Metrics
	publisher Publisher
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session            // conn id -> session
	rooms    map[string]map[string]*session // room id -> conn id -> session
}

func NewRegistry(log zerolog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		log:      log,
		metrics:  m,
		now:      time.Now,
		sessions: make(map[string]*session),
		rooms:    make(map[string]map[string]*session),
	}
}

// Track adds c to the set of live connections. It returns false if a
// connection with the same id is already tracked.
func (r *Registry) Track(c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[c.ID()]; exists {
		return false
	}
	r.sessions[c.ID()] = newSession(c, r.now())
	return true
}

// Untrack removes c from its room and from the set of live connections.
// Only the first call for a connection returns true; later calls are no-ops,
// so close, error and eviction paths can all call it.
func (r *Registry) Untrack(c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[c.ID()]
	if !ok || s.conn != c {
		return false
	}
	r.leaveLocked(s)
	delete(r.sessions, c.ID())
	return true
}

// Join puts c into room, leaving its current room first if it is a different
// one. The joiner receives JOINED and every other member PEER_JOINED so that
// existing peers know to resend their offer. Re-joining the same room repeats
// both notifications without duplicating membership.
func (r *Registry) Join(c Conn, room string) error {
	if room == "" {
		return ErrEmptyRoom
	}

	r.mu.Lock()
	s, ok := r.sessions[c.ID()]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownConn
	}
	if s.room != room {
		r.leaveLocked(s)
	}
	members, exists := r.rooms[room]
	if !exists {
		members = make(map[string]*session)
		r.rooms[room] = members
	}
	members[c.ID()] = s
	s.room = room
	peers := peersLocked(members, c.ID())
	r.mu.Unlock()

	r.metrics.Inc(metrics.Join)
	r.log.Debug().
		Str("conn_id", c.ID()).
		Str("room", room).
		Int("peers", len(peers)).
		Msg("joined room")

	joined, err := protocol.Joined(room)
	if err != nil {
		return err
	}
	r.deliver(c, joined)

	notice, err := protocol.PeerJoined(room)
	if err != nil {
		return err
	}
	for _, p := range peers {
		r.deliver(p, notice)
	}
	r.publish(room, notice)
	return nil
}

// Leave removes c from its room, deleting the room if it becomes empty.
// It is a no-op when c has no room.
func (r *Registry) Leave(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[c.ID()]; ok {
		r.leaveLocked(s)
	}
}

func (r *Registry) leaveLocked(s *session) {
	if s.room == "" {
		return
	}
	id := s.conn.ID()
	if members, ok := r.rooms[s.room]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(r.rooms, s.room)
			r.log.Debug().Str("room", s.room).Msg("room removed")
		}
	}
	s.room = ""
}

// Broadcast delivers payload to every other open member of c's room and
// returns the number of successful deliveries. A failed send to one peer is
// recorded and skipped; it never stops delivery to the others.
func (r *Registry) Broadcast(c Conn, payload []byte) int {
	r.mu.RLock()
	s, ok := r.sessions[c.ID()]
	if !ok || s.room == "" {
		r.mu.RUnlock()
		return 0
	}
	room := s.room
	members, exists := r.rooms[room]
	if !exists {
		r.mu.RUnlock()
		return 0
	}
	peers := peersLocked(members, c.ID())
	r.mu.RUnlock()

	r.metrics.Inc(metrics.Broadcast)
	delivered := 0
	for _, p := range peers {
		if r.deliver(p, payload) {
			delivered++
		}
	}
	r.publish(room, payload)
	return delivered
}

// Deliver hands a frame that originated on another instance to every open
// local member of room.
func (r *Registry) Deliver(room string, frame []byte) int {
	r.mu.RLock()
	peers := peersLocked(r.rooms[room], "")
	r.mu.RUnlock()

	delivered := 0
	for _, p := range peers {
		if r.deliver(p, frame) {
			delivered++
		}
	}
	return delivered
}

// MarkAlive records a probe response from c.
func (r *Registry) MarkAlive(c Conn) bool {
	r.mu.RLock()
	s, ok := r.sessions[c.ID()]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	s.alive.Store(true)
	return true
}

// RoomOf returns the room of the connection with the given id.
func (r *Registry) RoomOf(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok || s.room == "" {
		return "", false
	}
	return s.room, true
}

// Members returns the sorted connection ids in room.
func (r *Registry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasRoom reports whether room currently exists.
func (r *Registry) HasRoom(room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room]
	return ok
}

func (r *Registry) Stats() nyxsignal.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := nyxsignal.Stats{
		Rooms:       len(r.rooms),
		Connections: len(r.sessions),
	}
	for _, members := range r.rooms {
		st.Members += len(members)
	}
	return st
}

func (r *Registry) lookup(id string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// snapshot returns every tracked session.
func (r *Registry) snapshot() []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) deliver(c Conn, frame []byte) bool {
	if !c.IsAlive() {
		return false
	}
	if err := c.Send(frame); err != nil {
		r.metrics.Inc(metrics.SendFailed)
		r.log.Debug().Err(err).Str("conn_id", c.ID()).Msg("send failed")
		return false
	}
	r.metrics.Inc(metrics.Delivered)
	return true
}

func (r *Registry) publish(room string, frame []byte) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(room, frame); err != nil {
		r.log.Debug().Err(err).Str("room", room).Msg("bridge publish failed")
	}
}

func peersLocked(members map[string]*session, exclude string) []Conn {
	peers := make([]Conn, 0, len(members))
	for id, s := range members {
		if id == exclude {
			continue
		}
		peers = append(peers, s.conn)
	}
	return peers
}
