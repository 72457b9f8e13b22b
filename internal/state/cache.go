package state

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/reflex/pkg/models"
)

// ErrCorruptEntry is returned when a stored cache payload fails its checksum
// or carries an impossible ttl.
var ErrCorruptEntry = models.ErrCorruptEntry

func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// PutCacheEntry inserts or replaces a cache entry.
func (db *DB) PutCacheEntry(e *models.CacheEntry) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO cache_entries (key, payload, checksum, created_at, ttl)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			checksum = excluded.checksum,
			created_at = excluded.created_at,
			ttl = excluded.ttl
	`, e.Key, e.Payload, checksum(e.Payload), e.Timestamp.UnixNano(), int64(e.TTL))
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// GetCacheEntry loads an entry by key. It returns (nil, nil) when absent and
// ErrCorruptEntry when the stored row does not verify. Query failures are
// returned as plain errors. Freshness is the caller's decision.
func (db *DB) GetCacheEntry(key string) (*models.CacheEntry, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var (
		payload   []byte
		sum       string
		createdAt int64
		ttl       int64
	)
	err := db.conn.QueryRow(`
		SELECT payload, checksum, created_at, ttl FROM cache_entries WHERE key = ?
	`, key).Scan(&payload, &sum, &createdAt, &ttl)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	if checksum(payload) != sum || ttl <= 0 {
		return nil, fmt.Errorf("%w: key %s", ErrCorruptEntry, key)
	}

	return &models.CacheEntry{
		Key:       key,
		Payload:   payload,
		Timestamp: time.Unix(0, createdAt),
		TTL:       time.Duration(ttl),
	}, nil
}

// DeleteCacheEntry removes an entry.
func (db *DB) DeleteCacheEntry(key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec("DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// DeleteExpiredCacheEntries removes entries with now - created_at >= ttl and
// returns how many were deleted.
func (db *DB) DeleteExpiredCacheEntries(now time.Time) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result, err := db.conn.Exec(`
		DELETE FROM cache_entries WHERE ? - created_at >= ttl
	`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sweep cache entries: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(count), nil
}

// CountCacheEntries returns the number of stored entries, fresh or not.
func (db *DB) CountCacheEntries() (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var n int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM cache_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}
