package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Envelope is one room emission. Except skips a single session id.
type Envelope struct {
	Room    string          `json:"room"`
	Except  string          `json:"except,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Deliverer writes envelopes to the sessions connected to this process.
type Deliverer interface {
	Deliver(env Envelope)
}

// Broker carries room emissions to every process that may hold a member.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
}

// LocalBroker delivers in-process. It is enough for a single instance.
type LocalBroker struct {
	local Deliverer
}

func NewLocalBroker(local Deliverer) *LocalBroker {
	return &LocalBroker{local: local}
}

func (b *LocalBroker) Publish(_ context.Context, env Envelope) error {
	b.local.Deliver(env)
	return nil
}

// RedisBroker fans emissions out through a Redis channel. Every instance,
// the publisher included, delivers what it reads from the subscription.
type RedisBroker struct {
	client  *redis.Client
	channel string
	local   Deliverer
	log     *slog.Logger
}

func NewRedisBroker(client *redis.Client, channel string, local Deliverer, log *slog.Logger) *RedisBroker {
	return &RedisBroker{client: client, channel: channel, local: local, log: log}
}

func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe listens for emissions from all instances until ctx is done. The
// subscription is confirmed before it returns so no publish is missed.
func (b *RedisBroker) Subscribe(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.log.Warn("dropping malformed broker message", "channel", b.channel, "error", err)
					continue
				}
				b.local.Deliver(env)
			}
		}
	}()
	return nil
}
