package cost

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/reflex/pkg/models"
)

type fakeDurable struct {
	entries map[string]models.CacheEntry
	corrupt map[string]bool
	readErr error
	deleted []string
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{entries: map[string]models.CacheEntry{}, corrupt: map[string]bool{}}
}

func (f *fakeDurable) GetCacheEntry(key string) (*models.CacheEntry, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if f.corrupt[key] {
		return nil, fmt.Errorf("%w: checksum mismatch", models.ErrCorruptEntry)
	}
	e, ok := f.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (f *fakeDurable) PutCacheEntry(e *models.CacheEntry) error {
	f.entries[e.Key] = *e
	return nil
}

func (f *fakeDurable) DeleteCacheEntry(key string) error {
	delete(f.entries, key)
	delete(f.corrupt, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeDurable) DeleteExpiredCacheEntries(now time.Time) (int, error) {
	n := 0
	for k, e := range f.entries {
		if !e.Valid(now) {
			delete(f.entries, k)
			n++
		}
	}
	return n, nil
}

func TestCacheMemoryTierTTL(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	c := NewCache(4, WithTTL(time.Minute), WithCacheClock(clock.Now))

	require.NoError(t, c.Set("k", []byte("v")))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	clock.Advance(time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestCacheMemoryTierBounded(t *testing.T) {
	c := NewCache(2)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(k, []byte(k)))
	}
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCacheDurablePromotion(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	store := newFakeDurable()
	store.entries["k"] = models.CacheEntry{Key: "k", Payload: []byte("disk"), Timestamp: baseTime, TTL: time.Hour}

	c := NewCache(4, WithDurable(store), WithCacheClock(clock.Now))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("disk"), got)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Set("new", []byte("x")))
	assert.Contains(t, store.entries, "new")
}

func TestCacheCorruptDurableEntryIsMiss(t *testing.T) {
	store := newFakeDurable()
	store.entries["bad"] = models.CacheEntry{Key: "bad", Payload: []byte("?"), Timestamp: time.Now(), TTL: time.Hour}
	store.corrupt["bad"] = true

	c := NewCache(4, WithDurable(store))
	_, ok := c.Get("bad")
	assert.False(t, ok)
	assert.Equal(t, []string{"bad"}, store.deleted)
	assert.NotContains(t, store.entries, "bad")
}

func TestCacheReadErrorKeepsDurableEntry(t *testing.T) {
	store := newFakeDurable()
	store.entries["busy"] = models.CacheEntry{Key: "busy", Payload: []byte("ok"), Timestamp: time.Now(), TTL: time.Hour}
	store.readErr = errors.New("database is locked")

	c := NewCache(4, WithDurable(store))
	_, ok := c.Get("busy")
	assert.False(t, ok)
	assert.Empty(t, store.deleted)

	store.readErr = nil
	payload, ok := c.Get("busy")
	require.True(t, ok)
	assert.Equal(t, []byte("ok"), payload)
}

func TestCacheExpiredDurableEntryDiscarded(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	store := newFakeDurable()
	store.entries["old"] = models.CacheEntry{Key: "old", Payload: []byte("x"), Timestamp: baseTime.Add(-2 * time.Hour), TTL: time.Hour}

	c := NewCache(4, WithDurable(store), WithCacheClock(clock.Now))
	_, ok := c.Get("old")
	assert.False(t, ok)
	assert.Equal(t, []string{"old"}, store.deleted)
}

func TestCacheSweepExpired(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	store := newFakeDurable()
	c := NewCache(8, WithDurable(store), WithTTL(time.Hour), WithCacheClock(clock.Now))

	require.NoError(t, c.Set("a", []byte("1")))
	clock.Advance(30 * time.Minute)
	require.NoError(t, c.Set("b", []byte("2")))
	clock.Advance(45 * time.Minute)

	n, err := c.SweepExpired()
	require.NoError(t, err)
	// "a" is removed from both tiers.
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("b")
	assert.True(t, ok)
}
