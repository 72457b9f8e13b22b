package models

import (
	"errors"
	"time"
)

// ErrCorruptEntry marks a stored cache entry that fails verification.
var ErrCorruptEntry = errors.New("corrupt cache entry")

// Complexity drives output-token estimates and provider candidates.
type Complexity string

const (
	// ComplexitySimple is for lookups, formatting and boilerplate.
	ComplexitySimple Complexity = "simple"
	// ComplexityModerate is for standard generation work.
	ComplexityModerate Complexity = "moderate"
	// ComplexityComplex is for multi-step reasoning.
	ComplexityComplex Complexity = "complex"
	// ComplexityExpert is for design and architecture work.
	ComplexityExpert Complexity = "expert"
)

// Valid returns true if the complexity is a known value.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex, ComplexityExpert:
		return true
	default:
		return false
	}
}

// CallRecord is one immutable ledger line.
type CallRecord struct {
	Timestamp    time.Time  `json:"timestamp"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	Operation    string     `json:"operation"`
	InputTokens  int64      `json:"input_tokens"`
	OutputTokens int64      `json:"output_tokens"`
	Cost         float64    `json:"cost"`
	Cached       bool       `json:"cached"`
	Complexity   Complexity `json:"complexity"`
}

// CacheEntry is a cached provider response keyed by content hash.
type CacheEntry struct {
	Key       string        `json:"key"`
	Payload   []byte        `json:"payload"`
	Timestamp time.Time     `json:"timestamp"`
	TTL       time.Duration `json:"ttl"`
}

// Valid reports whether the entry is still fresh at now.
func (e *CacheEntry) Valid(now time.Time) bool {
	return now.Sub(e.Timestamp) < e.TTL
}
