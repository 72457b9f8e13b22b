package loop

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/reflex/internal/interrupt"
)

// AutoHuman answers every question the same way.
type AutoHuman struct {
	Answer bool
}

// Confirm returns h.Answer.
func (h AutoHuman) Confirm(ctx context.Context, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return h.Answer, nil
}

// SignalHuman asks through the interrupt channel: a Continue signal answers
// yes and a Stop signal answers no. Stop stays queued so the loop still
// ends at the next boundary. Every other signal goes back to the head of
// the channel in arrival order.
type SignalHuman struct {
	ch     *interrupt.Channel
	poll   time.Duration
	logger zerolog.Logger
}

// NewSignalHuman creates a SignalHuman polling ch every poll interval.
func NewSignalHuman(ch *interrupt.Channel, poll time.Duration, logger zerolog.Logger) *SignalHuman {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &SignalHuman{ch: ch, poll: poll, logger: logger}
}

// Confirm blocks until the observer answers or ctx ends.
func (h *SignalHuman) Confirm(ctx context.Context, question string) (bool, error) {
	h.logger.Info().Str("question", question).Msg("waiting for continue or stop")

	var held []interrupt.Signal
	for {
		batch := h.ch.Drain()
		for i, s := range batch {
			switch s.Type {
			case interrupt.SignalContinue:
				h.ch.Requeue(append(held, batch[i+1:]...)...)
				return true, nil
			case interrupt.SignalStop:
				h.ch.Requeue(append(held, batch[i:]...)...)
				return false, nil
			default:
				held = append(held, s)
			}
		}
		if err := ctx.Err(); err != nil {
			h.ch.Requeue(held...)
			return false, err
		}
		h.ch.Wait(ctx, h.poll)
	}
}
