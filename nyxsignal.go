package nyxsignal

import "context"

// Relay defines a rendezvous relay server that brokers peer-to-peer signaling.
//
// Clients connect over WebSocket, JOIN a named room and send opaque JSON
// messages (OFFER, ANSWER, ICE, ...) which the relay forwards to every other
// member of the same room. The relay never inspects those payloads beyond the
// "type" and "room" fields.
//
// Example usage:
//
//	import "github.com/luciancaetano/nyxsignal/ws"
//
//	relay := ws.New(ws.NewConfig(":8080", ws.DefaultLimits(), ws.AllOrigins(), nil, nil))
//	if err := relay.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer relay.Stop(context.Background())
type Relay interface {
	// Start starts listening for connections and launches the heartbeat
	// supervisor. It returns once the listener is up.
	//
	// Returns an error if the relay is already running or if there's a problem
	// binding to the network address.
	Start(ctx context.Context) error

	// Stop closes all client connections, stops the heartbeat supervisor and
	// shuts the HTTP server down.
	Stop(ctx context.Context) error

	// Stats returns a point-in-time view of the room registry.
	Stats() Stats

	// Addr returns the address the relay listens on once started.
	Addr() string
}

// Stats is a snapshot of the room registry.
type Stats struct {
	// Rooms is the number of rooms with at least one member.
	Rooms int `json:"rooms"`
	// Connections is the number of tracked connections, in a room or not.
	Connections int `json:"connections"`
	// Members is the number of connections that belong to a room.
	Members int `json:"members"`
}

// Client represents a connected WebSocket client.
//
// Each client has a unique identifier and maintains its own connection state.
// The client's context is automatically cancelled when the connection closes.
type Client interface {
	// ID returns a unique identifier for the connected client.
	//
	// The ID is generated when the client connects and remains constant for
	// the lifetime of the connection.
	ID() string

	// RemoteAddr returns the client's remote network address.
	RemoteAddr() string

	// Context returns the client's lifecycle context.
	//
	// This context is cancelled when the connection closes, allowing
	// goroutines associated with the client to clean up.
	Context() context.Context

	// Send queues a text frame for delivery to the client.
	//
	// Send never blocks: if the client's send queue is full or the connection
	// is closed an error is returned and the frame is discarded.
	Send(data []byte) error

	// Close closes the client connection gracefully.
	//
	// This is equivalent to calling CloseWithCode with websocket.CloseNormalClosure.
	Close(ctx context.Context) error

	// CloseWithCode closes the connection with a specific WebSocket close code and optional reason.
	//
	// Common close codes:
	//   - 1000 (websocket.CloseNormalClosure): Normal closure
	//   - 1001 (websocket.CloseGoingAway): Endpoint going away
	//   - 1008 (websocket.ClosePolicyViolation): Policy violation
	CloseWithCode(ctx context.Context, code int, reason string) error

	// IsAlive returns true if the connection is still open.
	IsAlive() bool
}
