package store

import (
	"context"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/nhle/inboxpilot/internal/model"
)

// Keys of the sync_state table.
const (
	KeyCursor   = "cursor"
	KeyLastSync = "last_sync"
)

// MessageFilter controls filtering and pagination for message queries.
// Results are always ordered by received_at, newest first.
type MessageFilter struct {
	Relevance fn.Option[model.Relevance]
	Replied   fn.Option[bool]
	State     fn.Option[model.ProcessingState]

	// Query matches subject, sender and plain body with LIKE.
	Query string

	Limit  int
	Offset int
}

// SenderCount is one row of the top senders breakdown.
type SenderCount struct {
	Sender string `json:"sender" db:"sender"`
	Count  int64  `json:"count" db:"n"`
}

// Stats summarizes the stored messages. Counts other than Total, Filtered
// and Errored consider relevant messages only.
type Stats struct {
	Total      int64                    `json:"total"`
	Relevant   int64                    `json:"relevant"`
	Filtered   int64                    `json:"filtered"`
	Errored    int64                    `json:"errored"`
	Replied    int64                    `json:"replied"`
	Unreplied  int64                    `json:"unreplied"`
	Recent     int64                    `json:"recent"`
	ReplyRate  float64                  `json:"reply_rate"`
	ByPriority map[model.Priority]int64 `json:"priority_breakdown"`
	TopSenders []SenderCount            `json:"top_senders"`
}

// Store persists messages and sync bookkeeping. Every write holds a per-id
// lock for its duration and is a single atomic statement.
type Store interface {
	// UpsertMessage inserts m or updates it in place. It never clears
	// has_reply and never replaces the draft of a replied message.
	UpsertMessage(ctx context.Context, m *model.Message) error

	// GetMessage returns model.ErrNotFound for unknown ids.
	GetMessage(ctx context.Context, id string) (*model.Message, error)

	ListMessages(ctx context.Context, f MessageFilter) ([]model.Message, error)

	// ThreadMessages returns a thread oldest first.
	ThreadMessages(ctx context.Context, threadID string) ([]model.Message, error)

	// PendingMessages returns messages that are errored or were
	// interrupted before reaching a terminal state.
	PendingMessages(ctx context.Context) ([]model.Message, error)

	// UpdateDraft replaces the draft of a relevant, unreplied message.
	UpdateDraft(ctx context.Context, id, draft string) error

	// MarkReplied records a confirmed send.
	MarkReplied(ctx context.Context, id string) error

	// TouchSynced updates only synced_at.
	TouchSynced(ctx context.Context, id string, at time.Time) error

	GetSyncState(ctx context.Context, key string) (fn.Option[string], error)
	SetSyncState(ctx context.Context, key, value string) error

	// Stats summarizes the store. now anchors the recent window.
	Stats(ctx context.Context, now time.Time) (*Stats, error)

	// DeleteOlderThan removes messages received before cutoff and returns
	// how many were deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
