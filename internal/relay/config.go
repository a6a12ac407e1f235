package relay

import (
	"time"

	"github.com/luciancaetano/nyxsignal"
)

// Config holds the admission and liveness limits of the engine.
type Config struct {
	// MaxMessageBytes is the largest frame that is processed. Larger frames
	// are dropped without affecting the connection.
	MaxMessageBytes int
	// RateLimitMessages is the number of frames a connection may send per
	// RateLimitWindow. Excess frames are dropped until the window rolls over.
	RateLimitMessages int
	// RateLimitWindow is the fixed window length. Windows start when the
	// connection is accepted and tick regardless of traffic.
	RateLimitWindow time.Duration
	// HeartbeatInterval is the ping period. A connection that has not
	// answered the previous ping when the next tick fires is terminated.
	HeartbeatInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxMessageBytes:   nyxsignal.DefaultMaxMessageBytes,
		RateLimitMessages: nyxsignal.DefaultRateLimitMessages,
		RateLimitWindow:   nyxsignal.DefaultRateLimitWindow,
		HeartbeatInterval: nyxsignal.DefaultHeartbeatInterval,
	}
}

// WithDefaults returns c with any zero/invalid fields replaced with sensible
// defaults.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	if c.RateLimitMessages <= 0 {
		c.RateLimitMessages = d.RateLimitMessages
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = d.RateLimitWindow
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	return c
}
