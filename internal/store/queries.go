package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/inboxpilot/internal/model"
)

// dialect holds the few SQL fragments that differ between backends.
// Queries are written with ? placeholders and rebound per dialect.
type dialect struct {
	bind int

	// mergeReply keeps has_reply sticky across upserts.
	mergeReply string

	// keepDraft protects the draft of a replied message.
	keepDraft string

	like      string
	unlimited string
}

var (
	sqliteDialect = dialect{
		bind:       sqlx.QUESTION,
		mergeReply: "MAX(messages.has_reply, excluded.has_reply)",
		keepDraft: "CASE WHEN messages.has_reply = 1 " +
			"THEN messages.draft_reply ELSE excluded.draft_reply END",
		like:      "LIKE",
		unlimited: "-1",
	}

	postgresDialect = dialect{
		bind:       sqlx.DOLLAR,
		mergeReply: "messages.has_reply OR excluded.has_reply",
		keepDraft: "CASE WHEN messages.has_reply " +
			"THEN messages.draft_reply ELSE excluded.draft_reply END",
		like:      "ILIKE",
		unlimited: "ALL",
	}
)

func (d dialect) rebind(query string) string {
	return sqlx.Rebind(d.bind, query)
}

const (
	getMessageQuery = `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`

	threadQuery = `SELECT ` + messageColumns + ` FROM messages
		WHERE thread_id = ? ORDER BY received_at ASC, id ASC`

	pendingQuery = `SELECT ` + messageColumns + ` FROM messages
		WHERE processing_state NOT IN ('filtered', 'stored')
		ORDER BY received_at ASC`

	updateDraftQuery = `UPDATE messages SET draft_reply = ?
		WHERE id = ? AND has_reply = ? AND relevance = 'relevant'`

	markRepliedQuery = `UPDATE messages SET has_reply = ? WHERE id = ?`

	touchSyncedQuery = `UPDATE messages SET synced_at = ? WHERE id = ?`

	getSyncStateQuery = `SELECT value FROM sync_state WHERE key = ?`

	setSyncStateQuery = `INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`

	deleteOlderQuery = `DELETE FROM messages WHERE received_at < ?`

	statsQuery = `SELECT
		COUNT(*) AS total,
		COALESCE(SUM(CASE WHEN relevance = 'relevant' THEN 1 ELSE 0 END), 0) AS relevant,
		COALESCE(SUM(CASE WHEN relevance = 'filtered' THEN 1 ELSE 0 END), 0) AS filtered,
		COALESCE(SUM(CASE WHEN processing_state = 'errored' THEN 1 ELSE 0 END), 0) AS errored,
		COALESCE(SUM(CASE WHEN relevance = 'relevant' AND has_reply = ? THEN 1 ELSE 0 END), 0) AS replied,
		COALESCE(SUM(CASE WHEN relevance = 'relevant' AND has_reply = ? THEN 1 ELSE 0 END), 0) AS unreplied,
		COALESCE(SUM(CASE WHEN relevance = 'relevant' AND received_at > ? THEN 1 ELSE 0 END), 0) AS recent
		FROM messages`

	priorityQuery = `SELECT priority, COUNT(*) AS n FROM messages
		WHERE relevance = 'relevant' GROUP BY priority`

	topSendersQuery = `SELECT sender_address AS sender, COUNT(*) AS n
		FROM messages WHERE relevance = 'relevant'
		GROUP BY sender_address ORDER BY n DESC, sender_address ASC LIMIT 5`
)

// upsertQuery builds the message upsert.
func (d dialect) upsertQuery() string {
	cols := strings.Split(messageColumns, ",")
	placeholders := make([]string, len(cols))
	var sets []string
	for i, c := range cols {
		c = strings.TrimSpace(c)
		placeholders[i] = "?"

		switch c {
		case "id":
			continue
		case "has_reply":
			sets = append(sets, "has_reply = "+d.mergeReply)
		case "draft_reply":
			sets = append(sets, "draft_reply = "+d.keepDraft)
		default:
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}

	return d.rebind(fmt.Sprintf(
		"INSERT INTO messages (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		messageColumns,
		strings.Join(placeholders, ", "),
		strings.Join(sets, ",\n\t"),
	))
}

// listQuery builds the filtered message listing.
func (d dialect) listQuery(f MessageFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	f.Relevance.WhenSome(func(r model.Relevance) {
		conds = append(conds, "relevance = ?")
		args = append(args, string(r))
	})
	f.Replied.WhenSome(func(replied bool) {
		conds = append(conds, "has_reply = ?")
		args = append(args, replied)
	})
	f.State.WhenSome(func(s model.ProcessingState) {
		conds = append(conds, "processing_state = ?")
		args = append(args, string(s))
	})
	if q := strings.TrimSpace(f.Query); q != "" {
		conds = append(conds, fmt.Sprintf(
			"(subject %[1]s ? OR sender_address %[1]s ? OR "+
				"sender_name %[1]s ? OR body_plain %[1]s ?)",
			d.like,
		))
		pattern := "%" + q + "%"
		args = append(args, pattern, pattern, pattern, pattern)
	}

	query := "SELECT " + messageColumns + " FROM messages"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY received_at DESC, id ASC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			query += " LIMIT " + d.unlimited
		}
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	return d.rebind(query), args
}

func statsArgs(now time.Time) []any {
	return []any{true, false, now.Add(-24 * time.Hour).UTC()}
}
