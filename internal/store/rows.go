package store

import (
	"math"
	"time"

	"github.com/nhle/inboxpilot/internal/model"
)

// messageColumns is the column list shared by every message query. Its
// order matches the insert placeholders.
const messageColumns = `id, thread_id, sender_address, sender_name, subject,
	body_plain, body_html, content_hash, received_at, synced_at,
	relevance, rationale, priority, summary, draft_reply,
	has_reply, processing_state, last_error`

// messageRow is the persisted shape of a model.Message.
type messageRow struct {
	ID            string    `db:"id"`
	ThreadID      string    `db:"thread_id"`
	SenderAddress string    `db:"sender_address"`
	SenderName    string    `db:"sender_name"`
	Subject       string    `db:"subject"`
	BodyPlain     string    `db:"body_plain"`
	BodyHTML      string    `db:"body_html"`
	ContentHash   string    `db:"content_hash"`
	ReceivedAt    time.Time `db:"received_at"`
	SyncedAt      time.Time `db:"synced_at"`
	Relevance     string    `db:"relevance"`
	Rationale     string    `db:"rationale"`
	Priority      string    `db:"priority"`
	Summary       *string   `db:"summary"`
	DraftReply    *string   `db:"draft_reply"`
	HasReply      bool      `db:"has_reply"`
	State         string    `db:"processing_state"`
	LastError     string    `db:"last_error"`
}

func (r *messageRow) toModel() model.Message {
	return model.Message{
		ID:            r.ID,
		ThreadID:      r.ThreadID,
		SenderAddress: r.SenderAddress,
		SenderName:    r.SenderName,
		Subject:       r.Subject,
		BodyPlain:     r.BodyPlain,
		BodyHTML:      r.BodyHTML,
		ContentHash:   r.ContentHash,
		ReceivedAt:    r.ReceivedAt.UTC(),
		SyncedAt:      r.SyncedAt.UTC(),
		Relevance:     model.Relevance(r.Relevance),
		Rationale:     r.Rationale,
		Priority:      model.Priority(r.Priority),
		Summary:       r.Summary,
		DraftReply:    r.DraftReply,
		HasReply:      r.HasReply,
		State:         model.ProcessingState(r.State),
		LastError:     r.LastError,
	}
}

// messageArgs returns the insert arguments for m in messageColumns order.
func messageArgs(m *model.Message) []any {
	return []any{
		m.ID, m.ThreadID, m.SenderAddress, m.SenderName, m.Subject,
		m.BodyPlain, m.BodyHTML, m.ContentHash,
		m.ReceivedAt.UTC(), m.SyncedAt.UTC(),
		string(m.Relevance), m.Rationale, string(m.Priority),
		m.Summary, m.DraftReply,
		m.HasReply, string(m.State), m.LastError,
	}
}

func toModels(rows []messageRow) []model.Message {
	msgs := make([]model.Message, 0, len(rows))
	for i := range rows {
		msgs = append(msgs, rows[i].toModel())
	}
	return msgs
}

// statsRow is the result of statsQuery.
type statsRow struct {
	Total     int64 `db:"total"`
	Relevant  int64 `db:"relevant"`
	Filtered  int64 `db:"filtered"`
	Errored   int64 `db:"errored"`
	Replied   int64 `db:"replied"`
	Unreplied int64 `db:"unreplied"`
	Recent    int64 `db:"recent"`
}

type priorityRow struct {
	Priority string `db:"priority"`
	Count    int64  `db:"n"`
}

func buildStats(
	counts statsRow,
	priorities []priorityRow,
	senders []SenderCount,
) *Stats {
	st := &Stats{
		Total:      counts.Total,
		Relevant:   counts.Relevant,
		Filtered:   counts.Filtered,
		Errored:    counts.Errored,
		Replied:    counts.Replied,
		Unreplied:  counts.Unreplied,
		Recent:     counts.Recent,
		ByPriority: make(map[model.Priority]int64, len(priorities)),
		TopSenders: senders,
	}
	if st.TopSenders == nil {
		st.TopSenders = []SenderCount{}
	}
	for _, p := range priorities {
		st.ByPriority[model.Priority(p.Priority)] = p.Count
	}
	if counts.Relevant > 0 {
		rate := float64(counts.Replied) / float64(counts.Relevant) * 100
		st.ReplyRate = math.Round(rate*10) / 10
	}

	return st
}
