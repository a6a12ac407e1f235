// Package ws exposes the WebSocket rendezvous relay.
package ws

import (
	"net/http"
	"strings"

	"github.com/luciancaetano/nyxsignal"
	"github.com/luciancaetano/nyxsignal/internal/websocket"
)

type Limits = websocket.Limits
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = websocket.OnConnectFn
type OnDisconnectFn = websocket.OnClientDisconnectFn

// ServerConfig is a pointer so Logger, Metrics and Bridge can be set on the
// value returned by NewConfig before calling New.
type ServerConfig = *websocket.ServerConfig

// New creates a new relay with the given configuration.
//
// Parameters on cfg:
//   - Addr: The listen address (e.g., ":8080" or "localhost:8080")
//   - Limits: Admission and liveness limits. Use DefaultLimits()
//   - CheckOrigin: Validates the Origin of upgrade requests. Use AllOrigins() to allow all
//   - OnConnect: Optional callback invoked once a client is tracked. Can be nil.
//   - OnClientDisconnect: Optional callback invoked after a client is released. Can be nil.
//
// Example:
//
//	relay := ws.New(ws.NewConfig(":8080", ws.DefaultLimits(), ws.AllOrigins(), func(client nyxsignal.Client) {
//	    log.Printf("Client connected: %s", client.ID())
//	}, nil))
func New(cfg ServerConfig) nyxsignal.Relay {
	return websocket.New(cfg)
}

func NewConfig(addr string, limits Limits, checkOrigin CheckOriginFn, onConnect OnConnectFn, onDisconnect OnDisconnectFn) ServerConfig {
	return &websocket.ServerConfig{
		Addr:               addr,
		Limits:             limits,
		CheckOrigin:        checkOrigin,
		OnConnect:          onConnect,
		OnClientDisconnect: onDisconnect,
	}
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// AllowOrigins accepts upgrades whose Origin header matches one of origins,
// ignoring case. Requests without an Origin header (non-browser clients) are
// accepted. An empty list allows every origin.
func AllowOrigins(origins ...string) CheckOriginFn {
	if len(origins) == 0 {
		return AllOrigins()
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}

// DefaultLimits returns the default relay limits
func DefaultLimits() Limits {
	return websocket.DefaultLimits()
}
