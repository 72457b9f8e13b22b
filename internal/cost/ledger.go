package cost

import (
	"sync"
	"time"

	"github.com/ShayCichocki/reflex/pkg/models"
)

// LedgerSink receives a copy of every appended record, typically for
// persistence.
type LedgerSink interface {
	AppendCallRecord(r models.CallRecord) error
}

// Ledger is an append-only list of call records guarded by one mutex.
type Ledger struct {
	mu      sync.Mutex
	records []models.CallRecord
}

// NewLedger creates an empty ledger, optionally seeded with records.
func NewLedger(seed ...models.CallRecord) *Ledger {
	l := &Ledger{}
	l.records = append(l.records, seed...)
	return l
}

// Append adds a record.
func (l *Ledger) Append(r models.CallRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
}

// Records returns a copy of all records in append order.
func (l *Ledger) Records() []models.CallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.CallRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Between returns records with from <= timestamp < to.
func (l *Ledger) Between(from, to time.Time) []models.CallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.CallRecord
	for _, r := range l.records {
		if inWindow(r.Timestamp, from, to) {
			out = append(out, r)
		}
	}
	return out
}

// Sum returns the total cost of records with from <= timestamp < to.
func (l *Ledger) Sum(from, to time.Time) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sumWindow(l.records, from, to)
}

func inWindow(ts, from, to time.Time) bool {
	return !ts.Before(from) && ts.Before(to)
}

func sumWindow(records []models.CallRecord, from, to time.Time) float64 {
	var total float64
	for _, r := range records {
		if inWindow(r.Timestamp, from, to) {
			total += r.Cost
		}
	}
	return total
}
