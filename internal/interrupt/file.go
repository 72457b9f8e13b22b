package interrupt

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SignalFileExt marks files whose content is a signal command.
const SignalFileExt = ".signal"

// FileSource watches a signals directory. A file named after a bare command
// ("pause", "stop", "continue") is a signal by itself; a "*.signal" file
// carries a full command in its content. Consumed files are removed.
type FileSource struct {
	dir     string
	watcher *fsnotify.Watcher
	backlog []string
}

// NewFileSource creates the directory if needed and starts watching it.
// Files already present are delivered first, in name order.
func NewFileSource(dir string) (*FileSource, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signal directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("read signal directory: %w", err)
	}
	var backlog []string
	for _, e := range entries {
		if !e.IsDir() {
			backlog = append(backlog, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(backlog)

	return &FileSource{dir: dir, watcher: watcher, backlog: backlog}, nil
}

// Dir returns the watched directory.
func (s *FileSource) Dir() string {
	return s.dir
}

// Next blocks until a signal file is consumed.
func (s *FileSource) Next(ctx context.Context) (Signal, error) {
	for len(s.backlog) > 0 {
		path := s.backlog[0]
		s.backlog = s.backlog[1:]
		if sig, ok, err := s.consume(path); ok || err != nil {
			return sig, err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return Signal{}, ctx.Err()
		case event, ok := <-s.watcher.Events:
			if !ok {
				return Signal{}, io.EOF
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if sig, ok, err := s.consume(event.Name); ok || err != nil {
				return sig, err
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return Signal{}, io.EOF
			}
			// Watcher errors are transient; keep watching.
		}
	}
}

// consume parses and removes a signal file. ok is false when the file is not
// ready yet or has already been consumed.
func (s *FileSource) consume(path string) (Signal, bool, error) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return Signal{}, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Signal{}, false, nil
	}

	var line string
	if strings.HasSuffix(base, SignalFileExt) {
		line = strings.TrimSpace(string(data))
		if line == "" {
			// Content not written yet; wait for the Write event.
			return Signal{}, false, nil
		}
	} else {
		line = base
	}

	os.Remove(path)

	sig, err := ParseSignal(line)
	if err != nil {
		return Signal{}, false, err
	}
	return sig, true, nil
}

// Close stops watching.
func (s *FileSource) Close() error {
	return s.watcher.Close()
}

// WriteSignalFile atomically drops a signal into dir so a FileSource picks it
// up with its full content.
func WriteSignalFile(dir string, sig Signal) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create signal directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".pending-*")
	if err != nil {
		return "", fmt.Errorf("create temp signal: %w", err)
	}
	if _, err := tmp.WriteString(sig.String()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write signal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close signal: %w", err)
	}

	// Names sort in arrival order so a backlog replays chronologically.
	suffix := strings.TrimPrefix(filepath.Base(tmp.Name()), ".pending-")
	final := filepath.Join(dir, fmt.Sprintf("%020d-%s%s", time.Now().UnixNano(), suffix, SignalFileExt))
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("publish signal: %w", err)
	}
	return final, nil
}
