package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viaclara/clarad/internal/db"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "clarad.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestAppendAndBatchEvents(t *testing.T) {
	l := openLedger(t)

	require.NoError(t, l.Append(EventBatchStarted, "batch-1", 2, map[string]any{"actions": float64(3)}))
	require.NoError(t, l.Append(EventOperationResult, "batch-1", 2, map[string]any{
		"index":       float64(0),
		"description": "toggle id:d1",
		"success":     true,
	}))
	require.NoError(t, l.Append(EventBatchCompleted, "batch-1", 2, map[string]any{"success": true}))
	require.NoError(t, l.Append(EventBatchStarted, "batch-2", 3, nil))

	entries, err := l.BatchEvents("batch-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, EventBatchStarted, entries[0].EventType)
	assert.Equal(t, EventOperationResult, entries[1].EventType)
	assert.Equal(t, EventBatchCompleted, entries[2].EventType)

	assert.Equal(t, int64(2), entries[0].UserID)
	assert.Equal(t, map[string]any{"actions": float64(3)}, entries[0].Payload)
	assert.Equal(t, "toggle id:d1", entries[1].Payload["description"])
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestBatchEventsEmpty(t *testing.T) {
	l := openLedger(t)

	entries, err := l.BatchEvents("missing")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNilPayload(t *testing.T) {
	l := openLedger(t)

	require.NoError(t, l.Append(EventBatchStarted, "b", 1, nil))
	entries, err := l.BatchEvents("b")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Payload)
}

func TestCleanup(t *testing.T) {
	l := openLedger(t)

	require.NoError(t, l.Append(EventBatchStarted, "old", 1, nil))

	// Backdate the entry past the retention window
	_, err := l.db.Exec(`UPDATE command_ledger SET timestamp = ? WHERE batch_id = 'old'`,
		time.Now().Add(-48*time.Hour).UTC().Unix())
	require.NoError(t, err)

	require.NoError(t, l.Append(EventBatchStarted, "fresh", 1, nil))

	deleted, err := l.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	entries, err := l.BatchEvents("fresh")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = l.BatchEvents("old")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
