package relay

import "github.com/luciancaetano/nyxsignal/internal/protocol"

// Router decides what an admitted frame does: a well-formed JOIN enters a
// room, anything else is broadcast to the sender's room. Fields other than
// "type" and "room" are never looked at.
type Router struct {
	reg *Registry
}

func NewRouter(reg *Registry) *Router {
	return &Router{reg: reg}
}

// Route applies msg on behalf of c.
func (rt *Router) Route(c Conn, msg protocol.Message) DropReason {
	if msg.IsJoin() {
		room, ok := msg.JoinRoom()
		if !ok {
			return DropInvalidJoin
		}
		if err := rt.reg.Join(c, room); err != nil {
			return DropUntracked
		}
		return Accepted
	}

	if _, ok := rt.reg.RoomOf(c.ID()); !ok {
		return DropNoRoom
	}
	rt.reg.Broadcast(c, msg.Raw)
	return Accepted
}
