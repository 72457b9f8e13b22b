package interrupt

import (
	"context"
	"io"
	"sync"
)

// Subscriber is the pub/sub surface the redis source needs.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// RedisSource reads signals published on a pub/sub channel. Payloads are
// command lines or JSON signal objects.
type RedisSource struct {
	sub     Subscriber
	channel string

	msgs    <-chan []byte
	cleanup func()
	mu      sync.Mutex
}

// NewRedisSource creates a source; the subscription opens on the first Next.
func NewRedisSource(sub Subscriber, channel string) *RedisSource {
	return &RedisSource{sub: sub, channel: channel}
}

func (s *RedisSource) subscribe(ctx context.Context) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.msgs != nil {
		return s.msgs, nil
	}
	msgs, cleanup, err := s.sub.Subscribe(ctx, s.channel)
	if err != nil {
		return nil, err
	}
	s.msgs = msgs
	s.cleanup = cleanup
	return msgs, nil
}

// Next returns the next published signal.
func (s *RedisSource) Next(ctx context.Context) (Signal, error) {
	msgs, err := s.subscribe(ctx)
	if err != nil {
		return Signal{}, err
	}

	select {
	case <-ctx.Done():
		return Signal{}, ctx.Err()
	case payload, ok := <-msgs:
		if !ok {
			return Signal{}, io.EOF
		}
		return ParseSignal(string(payload))
	}
}

// Close drops the subscription.
func (s *RedisSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cleanup != nil {
		s.cleanup()
		s.cleanup = nil
	}
	return nil
}
