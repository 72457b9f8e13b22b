package protect

import (
	"path/filepath"
	"strings"
	"sync"
)

// Detector checks whether paths fall in protected areas using three
// strategies, in order: glob patterns, path keywords, file extensions.
type Detector struct {
	mu        sync.RWMutex
	patterns  []string
	keywords  []string
	fileTypes []string
}

// Option configures a Detector.
type Option func(*Detector)

// WithPatterns replaces the glob patterns. A nil slice keeps the defaults.
func WithPatterns(patterns []string) Option {
	return func(d *Detector) {
		if patterns != nil {
			d.patterns = append([]string{}, patterns...)
		}
	}
}

// WithKeywords replaces the path keywords. A nil slice keeps the defaults.
func WithKeywords(keywords []string) Option {
	return func(d *Detector) {
		if keywords != nil {
			d.keywords = append([]string{}, keywords...)
		}
	}
}

// WithFileTypes replaces the protected extensions. A nil slice keeps the defaults.
func WithFileTypes(exts []string) Option {
	return func(d *Detector) {
		if exts != nil {
			d.fileTypes = append([]string{}, exts...)
		}
	}
}

// New creates a detector seeded with the defaults.
func New(opts ...Option) *Detector {
	d := &Detector{
		patterns:  append([]string{}, DefaultPatterns...),
		keywords:  append([]string{}, DefaultKeywords...),
		fileTypes: append([]string{}, DefaultFileTypes...),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// IsProtected reports whether path is protected.
func (d *Detector) IsProtected(path string) bool {
	protected, _ := d.Check(path)
	return protected
}

// Check reports whether path is protected and why.
func (d *Detector) Check(path string) (bool, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	normalized := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(path)), "/")
	lower := strings.ToLower(normalized)

	for _, pattern := range d.patterns {
		if Match(normalized, pattern) {
			return true, "matches protected pattern " + pattern
		}
	}

	for _, keyword := range d.keywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			return true, "contains protected keyword " + keyword
		}
	}

	ext := strings.ToLower(filepath.Ext(normalized))
	if ext == "" {
		// Dotfiles like ".env" have no extension by filepath rules.
		ext = strings.ToLower(filepath.Base(normalized))
	}
	for _, protectedExt := range d.fileTypes {
		if ext == strings.ToLower(protectedExt) {
			return true, "protected file type " + protectedExt
		}
	}

	return false, ""
}

// AddPattern appends a glob pattern.
func (d *Detector) AddPattern(pattern string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patterns = append(d.patterns, pattern)
}
