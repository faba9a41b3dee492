// Package ledger provides an append-only history of executed command
// batches. It is the audit trail for assistant-proposed actions: what was
// asked, what was authorized, and how each operation fared.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventBatchStarted    EventType = "batch_started"
	EventOperationResult EventType = "operation_result"
	EventBatchCompleted  EventType = "batch_completed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64
	BatchID   string
	UserID    int64
	EventType EventType
	Timestamp time.Time
	Payload   map[string]any
}

// Ledger provides append-only batch/operation logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, batchID string, userID int64, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	now := time.Now().UTC().Unix()
	_, err = l.db.Exec(`
		INSERT INTO command_ledger (batch_id, user_id, event_type, timestamp, payload)
		VALUES (?, ?, ?, ?, ?)
	`, batchID, userID, string(eventType), now, string(payloadJSON))
	return err
}

// BatchEvents returns all events recorded for a batch, oldest first
func (l *Ledger) BatchEvents(batchID string) ([]Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, batch_id, user_id, event_type, timestamp, payload
		FROM command_ledger WHERE batch_id = ? ORDER BY id
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var eventType, payload string
		var ts int64
		if err := rows.Scan(&e.ID, &e.BatchID, &e.UserID, &eventType, &ts, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.EventType = EventType(eventType)
		e.Timestamp = time.Unix(ts, 0).UTC()
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Cleanup removes entries older than the retention window and returns the
// number of rows deleted.
func (l *Ledger) Cleanup(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Unix()
	res, err := l.db.Exec(`DELETE FROM command_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup ledger: %w", err)
	}
	return res.RowsAffected()
}
