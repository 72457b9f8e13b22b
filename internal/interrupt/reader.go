package interrupt

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
)

type readResult struct {
	line string
	err  error
}

// ReaderSource parses one signal per line from an io.Reader such as stdin.
// The blocking read happens on a dedicated goroutine so Next can honor ctx.
type ReaderSource struct {
	r     io.Reader
	lines chan readResult
	once  sync.Once
}

// NewReaderSource creates a source reading newline-separated commands.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{
		r:     r,
		lines: make(chan readResult),
	}
}

func (s *ReaderSource) start() {
	go func() {
		defer close(s.lines)
		scanner := bufio.NewScanner(s.r)
		for scanner.Scan() {
			s.lines <- readResult{line: scanner.Text()}
		}
		if err := scanner.Err(); err != nil {
			s.lines <- readResult{err: err}
		}
	}()
}

// Next returns the next parsed signal. Blank lines are skipped.
func (s *ReaderSource) Next(ctx context.Context) (Signal, error) {
	s.once.Do(s.start)

	for {
		select {
		case <-ctx.Done():
			return Signal{}, ctx.Err()
		case res, ok := <-s.lines:
			if !ok {
				return Signal{}, io.EOF
			}
			if res.err != nil {
				return Signal{}, res.err
			}
			if strings.TrimSpace(res.line) == "" {
				continue
			}
			return ParseSignal(res.line)
		}
	}
}
