package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS is a Bridge over a core NATS subject.
type NATS struct {
	*core
	conn *nats.Conn
}

// NewNATS connects to the server at rawURL and starts the publish pump.
func NewNATS(rawURL string, opts Options) (*NATS, error) {
	c := newCore(opts, "nats")

	conn, err := nats.Connect(
		rawURL,
		nats.Name("nyxsignal-"+c.origin),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.log.Warn().Err(err).Msg("bridge disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.log.Info().Str("url", nc.ConnectedUrl()).Msg("bridge reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	n := &NATS{core: c, conn: conn}
	go n.pump(func(data []byte) error {
		return conn.Publish(n.channel, data)
	})

	n.log.Info().Str("url", conn.ConnectedUrl()).Str("subject", n.channel).Msg("bridge connected")
	return n, nil
}

func (n *NATS) Run(ctx context.Context, deliver DeliverFunc) error {
	msgs := make(chan *nats.Msg, 256)
	sub, err := n.conn.ChanSubscribe(n.channel, msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.channel, err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			n.handle(msg.Data, deliver)
		}
	}
}

func (n *NATS) Close() error {
	if !n.shutdown() {
		return nil
	}
	<-n.done
	if err := n.conn.Flush(); err != nil {
		n.log.Debug().Err(err).Msg("flush on close failed")
	}
	n.conn.Close()
	return nil
}
