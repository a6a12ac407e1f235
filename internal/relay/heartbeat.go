package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/nyxsignal/internal/metrics"
)

// Supervisor probes every tracked connection once per interval.
//
// Per connection: a probe clears the alive flag and sends a ping; the pong
// sets it again. If the flag is still clear at the next tick the peer missed
// a whole cycle and is terminated.
type Supervisor struct {
	reg      *Registry
	interval time.Duration
	evict    func(Conn)
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

// NewSupervisor returns a supervisor that calls evict for each unresponsive
// connection. evict must terminate the transport and untrack the connection.
func NewSupervisor(reg *Registry, interval time.Duration, evict func(Conn), log zerolog.Logger, m *metrics.Metrics) *Supervisor {
	return &Supervisor{
		reg:      reg,
		interval: interval,
		evict:    evict,
		log:      log,
		metrics:  m,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probed, evicted := s.Sweep()
			if evicted > 0 {
				s.log.Info().Int("probed", probed).Int("evicted", evicted).Msg("heartbeat sweep")
			}
		}
	}
}

// Sweep runs one heartbeat cycle over all tracked connections. Pings are
// written concurrently; Sweep returns once every ping has finished.
func (s *Supervisor) Sweep() (probed, evicted int) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for _, sess := range s.reg.snapshot() {
		if !sess.alive.CompareAndSwap(true, false) {
			s.metrics.Inc(metrics.HeartbeatEvicted)
			s.log.Debug().Str("conn_id", sess.conn.ID()).Msg("no pong since last probe, terminating")
			s.evict(sess.conn)
			evicted++
			continue
		}

		s.metrics.Inc(metrics.HeartbeatProbe)
		conn := sess.conn
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := conn.Ping(); err != nil {
				// the next sweep evicts it
				s.log.Debug().Err(err).Str("conn_id", conn.ID()).Msg("ping failed")
			}
		}()
		probed++
	}
	return probed, evicted
}
