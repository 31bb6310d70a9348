package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nhle/inboxpilot/internal/model"
	"github.com/nhle/inboxpilot/internal/store"
)

// NewTestStore creates a SQLiteStore in a temporary directory with all
// migrations applied. It is closed when the test completes.
func NewTestStore(t testing.TB) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(
		filepath.Join(t.TempDir(), "inboxpilot.db"), nil,
	)
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// Epoch is the reference time used by test fixtures.
var Epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// NewMessage returns a freshly fetched message with a computed content
// hash.
func NewMessage(id, threadID string, receivedAt time.Time) model.Message {
	m := model.Message{
		ID:            id,
		ThreadID:      threadID,
		SenderAddress: "alice@example.com",
		SenderName:    "Alice",
		Subject:       "Subject " + id,
		BodyPlain:     "Body of " + id,
		ReceivedAt:    receivedAt.UTC(),
		SyncedAt:      Epoch,
		Relevance:     model.RelevanceUnknown,
		Priority:      model.PriorityNormal,
		State:         model.StateFetched,
	}
	m.ContentHash = model.ContentHash(m.Subject, m.BodyPlain, m.BodyHTML)
	return m
}
