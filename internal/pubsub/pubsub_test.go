package pubsub_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/reflex/internal/interrupt"
	"github.com/ShayCichocki/reflex/internal/pubsub"
)

type publishCall struct {
	channel string
	payload []byte
}

type fakePublisher struct {
	calls []publishCall
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, publishCall{channel, payload})
	return nil
}

func TestSessionChannel(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "ops:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", pubsub.SessionChannel("ops", id))
	})

	t.Run("default base", func(t *testing.T) {
		t.Parallel()
		got := pubsub.SessionChannel("", id)
		assert.True(t, strings.HasPrefix(got, pubsub.DefaultChannel+":"), "got %q", got)
	})

	t.Run("different sessions differ", func(t *testing.T) {
		t.Parallel()
		other := uuid.MustParse("11111111-2222-3333-4444-555555555555")
		assert.NotEqual(t, pubsub.SessionChannel("x", id), pubsub.SessionChannel("x", other))
	})
}

func TestEncodeSignalRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []interrupt.Signal{
		{Type: interrupt.SignalPause},
		{Type: interrupt.SignalModifyGoal, Text: "ship the docs first"},
		{Type: interrupt.SignalFeedback, Text: "prefer small commits"},
	}
	for _, s := range tests {
		t.Run(string(s.Type), func(t *testing.T) {
			t.Parallel()

			payload, err := pubsub.EncodeSignal(s)
			require.NoError(t, err)
			assert.NotContains(t, string(payload), "received_at")

			got, err := interrupt.ParseSignal(string(payload))
			require.NoError(t, err)
			assert.Equal(t, s.Type, got.Type)
			assert.Equal(t, s.Text, got.Text)
		})
	}
}

func TestPublishSignal(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	err := pubsub.PublishSignal(context.Background(), pub, "reflex:signals", interrupt.Signal{Type: interrupt.SignalStop})
	require.NoError(t, err)
	require.Len(t, pub.calls, 1)
	assert.Equal(t, "reflex:signals", pub.calls[0].channel)
	assert.JSONEq(t, `{"type":"stop"}`, string(pub.calls[0].payload))

	boom := errors.New("connection refused")
	err = pubsub.PublishSignal(context.Background(), &fakePublisher{err: boom}, "c", interrupt.Signal{Type: interrupt.SignalStop})
	assert.ErrorIs(t, err, boom)
}
