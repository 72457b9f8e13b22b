package interrupt

import (
	"context"
	"errors"
	"io"
	"sync"
)

// MultiSource fans several sources into one, so a single listener routine
// remains the only producer into the Channel.
type MultiSource struct {
	sources []Source
	out     chan multiResult
	once    sync.Once
}

type multiResult struct {
	sig Signal
	err error
}

// NewMultiSource combines sources. It ends when every source has ended.
func NewMultiSource(sources ...Source) *MultiSource {
	return &MultiSource{
		sources: sources,
		out:     make(chan multiResult),
	}
}

func (m *MultiSource) start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, src := range m.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			for {
				sig, err := src.Next(ctx)
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return
				}
				select {
				case m.out <- multiResult{sig: sig, err: err}:
				case <-ctx.Done():
					return
				}
				if err != nil && !errors.Is(err, ErrUnknownSignal) {
					return
				}
			}
		}(src)
	}
	go func() {
		wg.Wait()
		close(m.out)
	}()
}

// Next returns the next signal from whichever source produces first. The
// context of the first call scopes the fan-in goroutines.
func (m *MultiSource) Next(ctx context.Context) (Signal, error) {
	m.once.Do(func() { m.start(ctx) })

	select {
	case <-ctx.Done():
		return Signal{}, ctx.Err()
	case res, ok := <-m.out:
		if !ok {
			return Signal{}, io.EOF
		}
		return res.sig, res.err
	}
}
