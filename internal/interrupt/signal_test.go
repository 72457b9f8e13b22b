package interrupt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignal(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType SignalType
		wantText string
		wantErr  bool
	}{
		{"pause", "pause", SignalPause, "", false},
		{"uppercase stop", "STOP", SignalStop, "", false},
		{"quit alias", "quit", SignalStop, "", false},
		{"resume alias", "resume", SignalContinue, "", false},
		{"goal with text", "goal write the tests first", SignalModifyGoal, "write the tests first", false},
		{"context with padding", "  context   the api is v2  ", SignalAddContext, "the api is v2", false},
		{"feedback", "feedback too verbose", SignalFeedback, "too verbose", false},
		{"bare command drops text", "pause now please", SignalPause, "", false},
		{"json", `{"type":"feedback","text":"looks good"}`, SignalFeedback, "looks good", false},
		{"json alias", `{"type":"goal","text":"ship it"}`, SignalModifyGoal, "ship it", false},
		{"goal without text", "goal", "", "", true},
		{"unknown", "explode", "", "", true},
		{"empty", "   ", "", "", true},
		{"bad json", `{"type":`, "", "", true},
		{"json unknown type", `{"type":"dance"}`, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := ParseSignal(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownSignal)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, sig.Type)
			assert.Equal(t, tt.wantText, sig.Text)
		})
	}
}

func TestSignal_StringRoundTrips(t *testing.T) {
	signals := []Signal{
		{Type: SignalPause},
		{Type: SignalStop},
		{Type: SignalContinue},
		{Type: SignalModifyGoal, Text: "new goal"},
		{Type: SignalAddContext, Text: "more context"},
		{Type: SignalFeedback, Text: "nice"},
	}

	for _, s := range signals {
		t.Run(string(s.Type), func(t *testing.T) {
			parsed, err := ParseSignal(s.String())
			require.NoError(t, err)
			assert.Equal(t, s.Type, parsed.Type)
			assert.Equal(t, s.Text, parsed.Text)
		})
	}
}
