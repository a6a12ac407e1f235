// Package bridge mirrors room fanout between relay instances over Redis
// Pub/Sub or NATS. Only frames travel; room membership stays local.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/luciancaetano/nyxsignal/internal/metrics"
)

const (
	DefaultChannel   = "nyxsignal.fanout"
	DefaultQueueSize = 1024
)

var (
	ErrQueueFull         = errors.New("bridge publish queue is full")
	ErrClosed            = errors.New("bridge is closed")
	ErrUnsupportedScheme = errors.New("unsupported bridge url scheme")
)

// DeliverFunc hands a frame published by another instance to local members
// of room.
type DeliverFunc func(room string, frame []byte)

// Bridge is a cross-instance fanout channel.
type Bridge interface {
	// Publish queues frame for the other instances. It never blocks.
	Publish(room string, frame []byte) error
	// Run subscribes and calls deliver for every remote frame until ctx is
	// cancelled or the subscription ends.
	Run(ctx context.Context, deliver DeliverFunc) error
	// Close flushes queued frames and releases the connection.
	Close() error
}

type Options struct {
	// Channel is the Redis channel or NATS subject. Defaults to DefaultChannel.
	Channel string
	// QueueSize bounds frames waiting to be published.
	QueueSize int
	// Origin identifies this instance; a random uuid when empty.
	Origin  string
	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
}

// New connects to the backend selected by rawURL's scheme: redis:// or
// rediss:// for Redis, nats:// or tls:// for NATS.
func New(rawURL string, opts Options) (Bridge, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}

	switch u.Scheme {
	case "redis", "rediss":
		return NewRedis(rawURL, opts)
	case "nats", "tls":
		return NewNATS(rawURL, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// envelope is the wire format shared by every backend.
type envelope struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Frame  json.RawMessage `json:"frame"`
}

// core holds the publish queue and envelope handling common to backends.
type core struct {
	origin  string
	channel string
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan []byte
	done   chan struct{}
}

func newCore(opts Options, backend string) *core {
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Origin == "" {
		opts.Origin = uuid.New().String()
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	return &core{
		origin:  opts.Origin,
		channel: opts.Channel,
		log: log.With().
			Str("component", "bridge").
			Str("backend", backend).
			Str("origin", opts.Origin).
			Logger(),
		metrics: opts.Metrics,
		queue:   make(chan []byte, opts.QueueSize),
		done:    make(chan struct{}),
	}
}

func (c *core) Publish(room string, frame []byte) error {
	data, err := json.Marshal(envelope{Origin: c.origin, Room: room, Frame: frame})
	if err != nil {
		c.metrics.Inc(metrics.BridgeDropped)
		return fmt.Errorf("encode envelope: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}
	select {
	case c.queue <- data:
		return nil
	default:
		c.metrics.Inc(metrics.BridgeDropped)
		return ErrQueueFull
	}
}

// pump drains the queue through send until the queue is closed.
func (c *core) pump(send func(data []byte) error) {
	defer close(c.done)

	for data := range c.queue {
		if err := send(data); err != nil {
			c.metrics.Inc(metrics.BridgeDropped)
			c.log.Warn().Err(err).Msg("publish failed")
			continue
		}
		c.metrics.Inc(metrics.BridgePublished)
	}
}

// handle decodes one inbound envelope and delivers it unless it came from
// this instance.
func (c *core) handle(data []byte, deliver DeliverFunc) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Debug().Err(err).Msg("discarding undecodable envelope")
		return
	}
	if env.Origin == c.origin || env.Room == "" || len(env.Frame) == 0 {
		return
	}
	deliver(env.Room, env.Frame)
	c.metrics.Inc(metrics.BridgeDelivered)
}

// shutdown stops accepting frames and reports whether this call did it.
func (c *core) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.queue)
	return true
}
