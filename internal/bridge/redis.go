package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPublishTimeout = 5 * time.Second

// Redis is a Bridge over Redis Pub/Sub.
type Redis struct {
	*core
	client *redis.Client
}

// NewRedis connects to the server at rawURL and starts the publish pump.
func NewRedis(rawURL string, opts Options) (*Redis, error) {
	ropts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)

	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	r := &Redis{
		core:   newCore(opts, "redis"),
		client: client,
	}
	go r.pump(r.send)

	r.log.Info().Str("addr", ropts.Addr).Str("channel", r.channel).Msg("bridge connected")
	return r, nil
}

func (r *Redis) send(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()
	return r.client.Publish(ctx, r.channel, data).Err()
}

func (r *Redis) Run(ctx context.Context, deliver DeliverFunc) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// confirm the subscription before reading
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Debug().Str("channel", r.channel).Msg("subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle([]byte(msg.Payload), deliver)
		}
	}
}

func (r *Redis) Close() error {
	if !r.shutdown() {
		return nil
	}
	<-r.done
	return r.client.Close()
}
