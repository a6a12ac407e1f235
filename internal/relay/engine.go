package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/nyxsignal"
	"github.com/luciancaetano/nyxsignal/internal/metrics"
)

// Engine wires the registry, admission filter, router and heartbeat
// supervisor behind the events a transport reports.
type Engine struct {
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	registry   *Registry
	filter     *Filter
	router     *Router
	supervisor *Supervisor

	// throttles the rate-limit warning so a flooding client cannot flood the log
	rateLimitWarn *rate.Sometimes
}

type Option func(*Engine)

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces time.Now for the rate-limit windows.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPublisher mirrors broadcasts and join notices to other instances.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.registry.publisher = p }
}

func New(cfg Config, opts ...Option) *Engine {
	cfg = cfg.WithDefaults()
	e := &Engine{
		cfg:           cfg,
		log:           zerolog.Nop(),
		now:           time.Now,
		rateLimitWarn: &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	e.registry = NewRegistry(e.log, nil)
	for _, opt := range opts {
		opt(e)
	}

	e.log = e.log.With().Str("component", "relay").Logger()
	e.registry.log = e.log
	e.registry.metrics = e.metrics
	e.registry.now = e.now
	e.filter = NewFilter(e.registry, cfg, e.now)
	e.router = NewRouter(e.registry)
	e.supervisor = NewSupervisor(e.registry, cfg.HeartbeatInterval, e.evict, e.log, e.metrics)
	return e
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) Supervisor() *Supervisor { return e.supervisor }

// Accept starts tracking a new connection.
func (e *Engine) Accept(c Conn) bool {
	if !e.registry.Track(c) {
		e.log.Warn().Str("conn_id", c.ID()).Msg("duplicate connection id")
		return false
	}
	e.metrics.Inc(metrics.ConnectionOpened)
	e.log.Debug().Str("conn_id", c.ID()).Msg("connection accepted")
	return true
}

// OnMessage runs one inbound frame through admission and routing. Frames of
// a single connection must be reported in arrival order from one goroutine.
func (e *Engine) OnMessage(c Conn, raw []byte) DropReason {
	msg, reason := e.filter.Accept(c, raw)
	if reason == Accepted {
		reason = e.router.Route(c, msg)
	}
	if reason != Accepted {
		e.drop(c, reason, len(raw))
	}
	return reason
}

// OnClose releases everything held for c. It is safe to call more than once.
func (e *Engine) OnClose(c Conn) {
	if !e.registry.Untrack(c) {
		return
	}
	e.metrics.Inc(metrics.ConnectionClosed)
	e.log.Debug().Str("conn_id", c.ID()).Msg("connection closed")
}

// OnError terminates c after a transport failure and releases it.
func (e *Engine) OnError(c Conn, err error) {
	e.log.Info().Err(err).Str("conn_id", c.ID()).Msg("transport error")
	if terr := c.Terminate(); terr != nil {
		e.log.Debug().Err(terr).Str("conn_id", c.ID()).Msg("terminate failed")
	}
	e.OnClose(c)
}

// OnProbeResponse records a pong from c.
func (e *Engine) OnProbeResponse(c Conn) {
	e.registry.MarkAlive(c)
}

// Run runs the heartbeat supervisor until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.supervisor.Run(ctx)
}

// Deliver fans a frame received from another instance out to local members.
func (e *Engine) Deliver(room string, frame []byte) int {
	return e.registry.Deliver(room, frame)
}

func (e *Engine) Stats() nyxsignal.Stats {
	return e.registry.Stats()
}

func (e *Engine) evict(c Conn) {
	if err := c.Terminate(); err != nil {
		e.log.Debug().Err(err).Str("conn_id", c.ID()).Msg("terminate failed")
	}
	e.OnClose(c)
}

func (e *Engine) drop(c Conn, reason DropReason, size int) {
	e.metrics.Inc(reason.metricName())
	e.log.Debug().
		Str("conn_id", c.ID()).
		Str("reason", string(reason)).
		Int("bytes", size).
		Msg("frame dropped")

	if reason == DropRateLimited {
		e.rateLimitWarn.Do(func() {
			e.log.Warn().
				Str("conn_id", c.ID()).
				Int("limit", e.cfg.RateLimitMessages).
				Dur("window", e.cfg.RateLimitWindow).
				Msg("rate limit exceeded")
		})
	}
}
