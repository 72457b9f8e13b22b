package state

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/reflex/pkg/models"
)

// AppendCallRecord persists one ledger line.
func (db *DB) AppendCallRecord(r models.CallRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	cached := 0
	if r.Cached {
		cached = 1
	}
	_, err := db.conn.Exec(`
		INSERT INTO call_records (ts, provider, model, operation, input_tokens, output_tokens, cost, cached, complexity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Timestamp.UnixNano(), r.Provider, r.Model, r.Operation,
		r.InputTokens, r.OutputTokens, r.Cost, cached, string(r.Complexity))
	if err != nil {
		return fmt.Errorf("append call record: %w", err)
	}
	return nil
}

// ListCallRecords returns records with from <= ts < to in timestamp order.
// A zero from or to leaves that side unbounded.
func (db *DB) ListCallRecords(from, to time.Time) ([]models.CallRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	lo := int64(0)
	if !from.IsZero() {
		lo = from.UnixNano()
	}
	hi := int64(1<<63 - 1)
	if !to.IsZero() {
		hi = to.UnixNano()
	}

	rows, err := db.conn.Query(`
		SELECT ts, provider, model, operation, input_tokens, output_tokens, cost, cached, complexity
		FROM call_records
		WHERE ts >= ? AND ts < ?
		ORDER BY ts, id
	`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("list call records: %w", err)
	}
	defer rows.Close()

	var out []models.CallRecord
	for rows.Next() {
		var (
			r          models.CallRecord
			ts         int64
			cached     int
			complexity string
		)
		if err := rows.Scan(&ts, &r.Provider, &r.Model, &r.Operation,
			&r.InputTokens, &r.OutputTokens, &r.Cost, &cached, &complexity); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		r.Timestamp = time.Unix(0, ts)
		r.Cached = cached != 0
		r.Complexity = models.Complexity(complexity)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call records: %w", err)
	}
	return out, nil
}
