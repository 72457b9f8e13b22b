// Package memory tracks the retained conversation and compacts it when it
// grows past a size threshold.
package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// Role tags who produced an entry.
type Role string

const (
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleObservation Role = "observation"
	RoleSystem      Role = "system"
)

// Default compaction parameters.
const (
	DefaultThreshold     = 50_000
	DefaultKeepRecent    = 10
	DefaultSnippetLength = 160
)

// How many snippets of each kind go into a summary.
const (
	summaryUserSnippets        = 3
	summaryObservationSnippets = 3
)

// Entry is one retained conversation item.
type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Compaction describes one compression pass.
type Compaction struct {
	// Before is the total length before compaction.
	Before int
	// After is the total length after compaction.
	After int
	// Removed is how many entries were folded into the summary.
	Removed int
}

// Compressor holds the conversation and performs extractive compaction: the
// summary is built from truncated snippets, not a semantic rewrite.
type Compressor struct {
	entries       []Entry
	threshold     int
	keepRecent    int
	snippetLength int
	logger        zerolog.Logger
	now           func() time.Time
	mu            sync.Mutex
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithThreshold sets the character length above which compaction runs.
func WithThreshold(chars int) Option {
	return func(c *Compressor) {
		if chars > 0 {
			c.threshold = chars
		}
	}
}

// WithKeepRecent sets how many trailing entries are preserved verbatim.
func WithKeepRecent(k int) Option {
	return func(c *Compressor) {
		if k >= 0 {
			c.keepRecent = k
		}
	}
}

// WithSnippetLength sets the truncation length of summary snippets.
func WithSnippetLength(n int) Option {
	return func(c *Compressor) {
		if n > 0 {
			c.snippetLength = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Compressor) {
		c.logger = l.With().Str("component", "memory").Logger()
	}
}

// NewCompressor creates an empty compressor.
func NewCompressor(opts ...Option) *Compressor {
	c := &Compressor{
		threshold:     DefaultThreshold,
		keepRecent:    DefaultKeepRecent,
		snippetLength: DefaultSnippetLength,
		logger:        zerolog.Nop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add appends an entry.
func (c *Compressor) Add(role Role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, Entry{Role: role, Content: content, Timestamp: c.now()})
}

// Entries returns a copy of the retained entries.
func (c *Compressor) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Entry{}, c.entries...)
}

// Length returns the total character length of the retained entries.
func (c *Compressor) Length() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return totalLength(c.entries)
}

// Threshold returns the configured compaction threshold.
func (c *Compressor) Threshold() int {
	return c.threshold
}

// MaybeCompress compacts the conversation if it exceeds the threshold.
// The last keepRecent entries are kept untouched and the result is always
// strictly shorter; if no shorter summary is possible nothing changes.
func (c *Compressor) MaybeCompress() (Compaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := totalLength(c.entries)
	if before <= c.threshold || len(c.entries) <= c.keepRecent {
		return Compaction{}, false
	}

	split := len(c.entries) - c.keepRecent
	prefix := c.entries[:split]
	prefixLen := totalLength(prefix)

	summary := c.summarize(prefix)
	if len(summary) >= prefixLen {
		if prefixLen <= 1 {
			return Compaction{}, false
		}
		summary = truncate(summary, prefixLen-1)
	}

	compacted := make([]Entry, 0, c.keepRecent+1)
	compacted = append(compacted, Entry{Role: RoleSystem, Content: summary, Timestamp: c.now()})
	compacted = append(compacted, c.entries[split:]...)
	c.entries = compacted

	result := Compaction{Before: before, After: totalLength(c.entries), Removed: len(prefix)}
	c.logger.Info().
		Int("before", result.Before).
		Int("after", result.After).
		Int("removed", result.Removed).
		Msg("conversation compacted")
	return result, true
}

// summarize builds the extractive summary of a prefix.
func (c *Compressor) summarize(prefix []Entry) string {
	var users, observations []string
	for _, e := range prefix {
		switch e.Role {
		case RoleUser:
			if len(users) < summaryUserSnippets {
				users = append(users, c.snippet(e.Content))
			}
		case RoleObservation:
			observations = append(observations, c.snippet(e.Content))
		}
	}
	if len(observations) > summaryObservationSnippets {
		observations = observations[len(observations)-summaryObservationSnippets:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[summary of %d earlier entries]", len(prefix))
	if len(users) > 0 {
		b.WriteString("\nrequests:")
		for _, s := range users {
			b.WriteString("\n- ")
			b.WriteString(s)
		}
	}
	if len(observations) > 0 {
		b.WriteString("\nobservations:")
		for _, s := range observations {
			b.WriteString("\n- ")
			b.WriteString(s)
		}
	}
	return b.String()
}

func (c *Compressor) snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= c.snippetLength {
		return s
	}
	return truncate(s, c.snippetLength) + "..."
}

// Summary returns a short description of the latest entries, at most max
// characters, for checkpoints and status output.
func (c *Compressor) Summary(max int) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) == 0 {
		return ""
	}
	last := c.entries[len(c.entries)-1]
	s := fmt.Sprintf("%d entries, %d chars; last %s: %s",
		len(c.entries), totalLength(c.entries), last.Role, strings.Join(strings.Fields(last.Content), " "))
	if max > 0 && len(s) > max {
		s = truncate(s, max)
	}
	return s
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func totalLength(entries []Entry) int {
	n := 0
	for _, e := range entries {
		n += len(e.Content)
	}
	return n
}
