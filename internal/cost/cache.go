package cost

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/ShayCichocki/reflex/pkg/models"
)

// Cache defaults.
const (
	DefaultCacheTTL      = 7 * 24 * time.Hour
	DefaultMemoryEntries = 256
)

// DurableStore is the persistent cache tier.
type DurableStore interface {
	GetCacheEntry(key string) (*models.CacheEntry, error)
	PutCacheEntry(e *models.CacheEntry) error
	DeleteCacheEntry(key string) error
	DeleteExpiredCacheEntries(now time.Time) (int, error)
}

// Cache is a two-tier response cache: a recency-bounded memory tier in front
// of an optional TTL-expiring durable tier. Both tiers are TTL-checked on read.
type Cache struct {
	mu      sync.Mutex
	mem     *lru.Cache[string, models.CacheEntry]
	durable DurableStore
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithDurable attaches a durable tier.
func WithDurable(store DurableStore) CacheOption {
	return func(c *Cache) { c.durable = store }
}

// WithCacheClock overrides the time source.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger zerolog.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger.With().Str("component", "cache").Logger() }
}

// NewCache creates a cache whose memory tier holds at most memoryEntries
// entries. Non-positive sizes use DefaultMemoryEntries.
func NewCache(memoryEntries int, opts ...CacheOption) *Cache {
	if memoryEntries <= 0 {
		memoryEntries = DefaultMemoryEntries
	}
	// lru.New only fails for non-positive sizes.
	mem, _ := lru.New[string, models.CacheEntry](memoryEntries)

	c := &Cache{
		mem:    mem,
		ttl:    DefaultCacheTTL,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Key hashes the request identity. Params are JSON-encoded with sorted keys.
func Key(prompt, provider, model string, params map[string]any) string {
	data, err := json.Marshal(struct {
		Prompt   string         `json:"prompt"`
		Provider string         `json:"provider"`
		Model    string         `json:"model"`
		Params   map[string]any `json:"params,omitempty"`
	}{prompt, provider, model, params})
	if err != nil {
		// Unencodable params still need a stable key.
		data = []byte(prompt + "\x00" + provider + "\x00" + model)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns a fresh payload for key. A durable hit is promoted to memory.
// Expired or corrupt entries are discarded and reported as misses.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.mem.Get(key); ok {
		if e.Valid(now) {
			return cloneBytes(e.Payload), true
		}
		c.mem.Remove(key)
	}

	if c.durable == nil {
		return nil, false
	}

	e, err := c.durable.GetCacheEntry(key)
	if errors.Is(err, models.ErrCorruptEntry) {
		c.logger.Warn().Err(err).Str("key", key).Msg("discarding corrupt cache entry")
		if derr := c.durable.DeleteCacheEntry(key); derr != nil {
			c.logger.Warn().Err(derr).Str("key", key).Msg("delete cache entry")
		}
		return nil, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("durable cache read failed")
		return nil, false
	}
	if e == nil {
		return nil, false
	}
	if !e.Valid(now) {
		if derr := c.durable.DeleteCacheEntry(key); derr != nil {
			c.logger.Warn().Err(derr).Str("key", key).Msg("delete expired cache entry")
		}
		return nil, false
	}

	c.mem.Add(key, *e)
	return cloneBytes(e.Payload), true
}

// Set stores payload under key in both tiers.
func (c *Cache) Set(key string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := models.CacheEntry{
		Key:       key,
		Payload:   cloneBytes(payload),
		Timestamp: c.now(),
		TTL:       c.ttl,
	}
	c.mem.Add(key, e)

	if c.durable != nil {
		if err := c.durable.PutCacheEntry(&e); err != nil {
			return err
		}
	}
	return nil
}

// SweepExpired removes expired entries from both tiers and returns the
// number removed across them.
func (c *Cache) SweepExpired() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, key := range c.mem.Keys() {
		if e, ok := c.mem.Peek(key); ok && !e.Valid(now) {
			c.mem.Remove(key)
			removed++
		}
	}

	if c.durable != nil {
		n, err := c.durable.DeleteExpiredCacheEntries(now)
		if err != nil {
			return removed, err
		}
		removed += n
	}

	if removed > 0 {
		c.logger.Debug().Int("removed", removed).Msg("swept expired cache entries")
	}
	return removed, nil
}

// Len returns the number of entries in the memory tier.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mem.Len()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
