// Package nyxsignal provides a rendezvous relay for WebRTC-style signaling.
//
// Clients join a named room and exchange opaque signaling payloads (offers,
// answers, ICE candidates) which the relay fans out to the other members of
// the room. The relay never takes part in the peer-to-peer session itself and
// never stores what it forwards.
//
// # Architecture
//
// The core lives in internal/relay and is made of four parts:
//
//   - Room Registry: room id -> members, plus the set of tracked connections
//   - Admission Filter: size cap, fixed-window rate limit and JSON shape check
//   - Fanout Router: JOIN handling or broadcast to the sender's room
//   - Heartbeat Supervisor: periodic ping, eviction of peers that never pong
//
// internal/websocket adapts gorilla/websocket connections to the core and
// ws exposes the public constructor.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/nyxsignal/ws"
//	)
//
//	relay := ws.New(ws.NewConfig(":8080", ws.DefaultLimits(), ws.AllOrigins(), nil, nil))
//	relay.Start(ctx)
//
// # Protocol
//
// All frames are JSON objects:
//
//	client -> relay   {"type":"JOIN","room":"r1"}
//	relay  -> client  {"type":"JOINED","room":"r1"}
//	relay  -> peers   {"type":"PEER_JOINED","room":"r1"}
//	client -> peers   {"type":"OFFER","sdp":"..."}   (any other type, forwarded as is)
//
// A client must JOIN before anything it sends is forwarded. A connection is in
// at most one room; joining another room leaves the previous one.
//
// # Limits
//
//   - Maximum message size: 64KiB (larger frames are dropped, the socket stays open)
//   - Rate limit: 200 messages per 5 second window per connection
//   - Heartbeat: ping every 30 seconds, a peer that misses one full cycle is terminated
//
// Every violation is a silent drop. The relay never sends error frames, so a
// probing client learns nothing from a rejected message.
//
// # Scaling out
//
// Several relay processes can share rooms through a Redis or NATS bridge
// (see internal/bridge). Room membership stays local to each process; only the
// forwarded frames travel across the bridge.
package nyxsignal
