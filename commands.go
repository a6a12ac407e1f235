package nyxsignal

import "time"

// Message types understood by the relay. Every other type is forwarded
// verbatim to the sender's room.
const (
	// TypeJoin is sent by a client to enter a room: {"type":"JOIN","room":"r1"}
	TypeJoin = "JOIN"
	// TypeJoined acknowledges a JOIN to the joiner.
	TypeJoined = "JOINED"
	// TypePeerJoined tells existing members that someone joined their room.
	TypePeerJoined = "PEER_JOINED"
)

// Default limits.
const (
	DefaultMaxMessageBytes   = 64 * 1024
	DefaultRateLimitMessages = 200
	DefaultRateLimitWindow   = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultSendQueueSize     = 256
	DefaultWriteTimeout      = 10 * time.Second
)

// Standard error messages
const (
	// Protocol errors
	ErrInvalidMessageFormat = "invalid message format"
	ErrNotJSONObject        = "message is not a JSON object"
	ErrEmptyRoom            = "room id must be a non-empty string"

	// Connection errors
	ErrUnknownConnection    = "connection is not tracked"
	ErrConnectionClosed     = "client connection is closed"
	ErrSendQueueFull        = "client send queue is full"
	ErrServerAlreadyRunning = "server already running"
)

// HealthResponse is the plain-text body served to non-upgrade HTTP requests.
const HealthResponse = "nyxsignal up\n"
