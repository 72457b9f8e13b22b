package interrupt

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
)

// Source yields signals from some external input. Next blocks until a signal
// is available and returns io.EOF when the input is exhausted.
type Source interface {
	Next(ctx context.Context) (Signal, error)
}

// Listen reads from src and pushes into ch until the source ends, ctx is
// done, or the channel is closed. Unparseable input is logged and skipped.
func Listen(ctx context.Context, src Source, ch *Channel, logger zerolog.Logger) error {
	logger = logger.With().Str("component", "interrupt").Logger()

	for {
		sig, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrUnknownSignal) {
				logger.Warn().Err(err).Msg("ignoring input")
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		if err := ch.Push(sig); err != nil {
			return err
		}
		logger.Debug().Str("signal", string(sig.Type)).Msg("signal queued")
	}
}

// Start runs Listen on its own goroutine. The returned channel receives the
// listener's exit error (nil on clean shutdown) and is then closed.
func Start(ctx context.Context, src Source, ch *Channel, logger zerolog.Logger) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- Listen(ctx, src, ch, logger)
	}()
	return done
}
