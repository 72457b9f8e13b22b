package state

import (
	"io"
	"time"

	"github.com/ShayCichocki/reflex/pkg/models"
)

// CacheStore is the durable cache tier.
type CacheStore interface {
	GetCacheEntry(key string) (*models.CacheEntry, error)
	PutCacheEntry(e *models.CacheEntry) error
	DeleteCacheEntry(key string) error
	DeleteExpiredCacheEntries(now time.Time) (int, error)
}

// LedgerStore persists cost ledger lines.
type LedgerStore interface {
	AppendCallRecord(r models.CallRecord) error
	ListCallRecords(from, to time.Time) ([]models.CallRecord, error)
}

// Store composes everything the coordinator persists.
type Store interface {
	io.Closer
	Migrate() error
	CacheStore
	LedgerStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store       = (*DB)(nil)
	_ CacheStore  = (*DB)(nil)
	_ LedgerStore = (*DB)(nil)
)
