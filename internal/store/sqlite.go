package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lightningnetwork/lnd/fn/v2"
	_ "modernc.org/sqlite"

	"github.com/nhle/inboxpilot/internal/model"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db    *sqlx.DB
	d     dialect
	locks KeyedMutex
	log   *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath in WAL mode and
// applies pending schema migrations.
func NewSQLiteStore(dbPath string, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "store")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"+
			"&_pragma=foreign_keys(1)&_txlock=immediate",
		dbPath,
	)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Single writer. Reads queue behind it, which is plenty for one inbox.
	db.SetMaxOpenConns(1)

	if err := applySQLiteMigrations(db.DB, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{
		db:  db,
		d:   sqliteDialect,
		log: log,
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertMessage inserts or updates a message in place.
func (s *SQLiteStore) UpsertMessage(ctx context.Context, m *model.Message) error {
	unlock := s.locks.Lock(m.ID)
	defer unlock()

	_, err := s.db.ExecContext(ctx, s.d.upsertQuery(), messageArgs(m)...)
	if err != nil {
		return fmt.Errorf("upserting message %s: %w", m.ID, err)
	}
	return nil
}

// GetMessage retrieves a single message by id.
func (s *SQLiteStore) GetMessage(
	ctx context.Context,
	id string,
) (*model.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, s.d.rebind(getMessageQuery), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting message %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}

	m := row.toModel()
	return &m, nil
}

// ListMessages retrieves messages matching f, newest first.
func (s *SQLiteStore) ListMessages(
	ctx context.Context,
	f MessageFilter,
) ([]model.Message, error) {
	query, args := s.d.listQuery(f)

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return toModels(rows), nil
}

// ThreadMessages retrieves all messages of a thread, oldest first.
func (s *SQLiteStore) ThreadMessages(
	ctx context.Context,
	threadID string,
) ([]model.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, s.d.rebind(threadQuery), threadID)
	if err != nil {
		return nil, fmt.Errorf("querying thread %s: %w", threadID, err)
	}
	return toModels(rows), nil
}

// PendingMessages retrieves messages that still need pipeline work.
func (s *SQLiteStore) PendingMessages(
	ctx context.Context,
) ([]model.Message, error) {
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, pendingQuery); err != nil {
		return nil, fmt.Errorf("querying pending messages: %w", err)
	}
	return toModels(rows), nil
}

// UpdateDraft replaces the draft of a relevant, unreplied message. The
// guard is part of the UPDATE so a concurrent send cannot slip between
// check and write.
func (s *SQLiteStore) UpdateDraft(ctx context.Context, id, draft string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	res, err := s.db.ExecContext(ctx, s.d.rebind(updateDraftQuery),
		draft, id, false,
	)
	if err != nil {
		return fmt.Errorf("updating draft for %s: %w", id, err)
	}

	return s.explainMiss(ctx, res, id)
}

// MarkReplied records a confirmed send.
func (s *SQLiteStore) MarkReplied(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	res, err := s.db.ExecContext(ctx, s.d.rebind(markRepliedQuery), true, id)
	if err != nil {
		return fmt.Errorf("marking %s replied: %w", id, err)
	}
	return requireRow(res, id)
}

// TouchSynced updates the synced_at timestamp only.
func (s *SQLiteStore) TouchSynced(
	ctx context.Context,
	id string,
	at time.Time,
) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	res, err := s.db.ExecContext(ctx, s.d.rebind(touchSyncedQuery),
		at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("touching %s: %w", id, err)
	}
	return requireRow(res, id)
}

// GetSyncState reads a sync bookkeeping value.
func (s *SQLiteStore) GetSyncState(
	ctx context.Context,
	key string,
) (fn.Option[string], error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.d.rebind(getSyncStateQuery), key)
	if errors.Is(err, sql.ErrNoRows) {
		return fn.None[string](), nil
	}
	if err != nil {
		return fn.None[string](), fmt.Errorf("reading sync state %s: %w",
			key, err)
	}
	return fn.Some(value), nil
}

// SetSyncState writes a sync bookkeeping value.
func (s *SQLiteStore) SetSyncState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(setSyncStateQuery),
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing sync state %s: %w", key, err)
	}
	return nil
}

// Stats summarizes the stored messages.
func (s *SQLiteStore) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	var counts statsRow
	err := s.db.GetContext(ctx, &counts, s.d.rebind(statsQuery),
		statsArgs(now)...,
	)
	if err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}

	var priorities []priorityRow
	if err := s.db.SelectContext(ctx, &priorities, priorityQuery); err != nil {
		return nil, fmt.Errorf("counting priorities: %w", err)
	}

	var senders []SenderCount
	if err := s.db.SelectContext(ctx, &senders, topSendersQuery); err != nil {
		return nil, fmt.Errorf("counting senders: %w", err)
	}

	return buildStats(counts, priorities, senders), nil
}

// DeleteOlderThan removes messages received before cutoff.
func (s *SQLiteStore) DeleteOlderThan(
	ctx context.Context,
	cutoff time.Time,
) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.d.rebind(deleteOlderQuery), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting old messages: %w", err)
	}
	return res.RowsAffected()
}

// explainMiss turns a guarded update that touched no row into the error
// describing why.
func (s *SQLiteStore) explainMiss(
	ctx context.Context,
	res sql.Result,
	id string,
) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	m, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	return draftGuardError(m)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("updating message %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// draftGuardError reports why m's draft may not be replaced.
func draftGuardError(m *model.Message) error {
	switch {
	case m.HasReply:
		return model.ErrAlreadyReplied
	case m.Relevance != model.RelevanceRelevant:
		return model.ErrNotRelevant
	}
	return nil
}
