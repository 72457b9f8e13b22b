// Package logging builds the root zerolog logger.
package logging

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// ParseLevel parses a level name. Empty or unknown names are info.
func ParseLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// New returns a timestamped logger writing to w. Format "json" writes one
// JSON object per line; anything else writes human-readable console lines.
func New(level, format string, w io.Writer) zerolog.Logger {
	out := w
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05", NoColor: !isTerminal(w)}
	}
	return zerolog.New(out).Level(ParseLevel(level)).With().Timestamp().Logger()
}
