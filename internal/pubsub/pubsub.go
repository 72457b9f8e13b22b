// Package pubsub is the redis transport for interrupt signals.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ShayCichocki/reflex/internal/interrupt"
)

// DefaultChannel is the channel signals are published on.
const DefaultChannel = "reflex:signals"

// Options configures the redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

type PubSub struct {
	client *redis.Client
}

var _ interrupt.Subscriber = (*PubSub)(nil)

// New connects and pings the server.
func New(ctx context.Context, opts Options) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub.New: ping %s: %w", opts.Addr, err)
	}

	return &PubSub{client: client}, nil
}

func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("pubsub.Close: %w", err)
	}
	return nil
}

func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ps.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("pubsub.Publish: %w", err)
	}
	return nil
}

// Subscribe returns a channel of payloads and a cleanup func. The payload
// channel closes when ctx ends or the subscription drops.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("pubsub.Subscribe: receive confirmation: %w", err)
	}

	out := make(chan []byte, 64)
	redisCh := sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cleanup := func() {
		_ = sub.Close()
	}

	return out, cleanup, nil
}

// Publisher is the publishing half of PubSub.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// PublishSignal publishes s as a JSON signal object.
func PublishSignal(ctx context.Context, p Publisher, channel string, s interrupt.Signal) error {
	payload, err := EncodeSignal(s)
	if err != nil {
		return err
	}
	return p.Publish(ctx, channel, payload)
}

// EncodeSignal renders s in the JSON form interrupt.ParseSignal accepts.
func EncodeSignal(s interrupt.Signal) ([]byte, error) {
	payload, err := json.Marshal(struct {
		Type interrupt.SignalType `json:"type"`
		Text string               `json:"text,omitempty"`
	}{s.Type, s.Text})
	if err != nil {
		return nil, fmt.Errorf("pubsub.EncodeSignal: %w", err)
	}
	return payload, nil
}

// SessionChannel returns the channel scoped to one session.
func SessionChannel(base string, sessionID uuid.UUID) string {
	if base == "" {
		base = DefaultChannel
	}
	return base + ":" + sessionID.String()
}
