// Package relay is the room registry and fanout engine of the signaling relay.
//
// It is transport-agnostic: a transport hands every accepted connection to
// Engine.Accept and reports frames, pongs and closes through the On* methods.
// The engine never blocks on one connection's I/O while serving another; all
// sends go through Conn.Send, which must not block.
package relay
