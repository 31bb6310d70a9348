package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/nhle/inboxpilot/internal/model"
)

// PostgresStore implements Store on a shared PostgreSQL database.
type PostgresStore struct {
	pool  *pgxpool.Pool
	d     dialect
	locks KeyedMutex
	log   *slog.Logger
}

// NewPostgresStore connects to dsn and applies pending schema migrations.
func NewPostgresStore(
	ctx context.Context,
	dsn string,
	log *slog.Logger,
) (*PostgresStore, error) {
	if log == nil {
		log = slog.Default()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if err := applyPostgresMigrations(stdlib.OpenDBFromPool(pool), log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &PostgresStore{
		pool: pool,
		d:    postgresDialect,
		log:  log.With("component", "store"),
	}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// UpsertMessage inserts or updates a message in place.
func (s *PostgresStore) UpsertMessage(ctx context.Context, m *model.Message) error {
	unlock := s.locks.Lock(m.ID)
	defer unlock()

	if _, err := s.pool.Exec(ctx, s.d.upsertQuery(), messageArgs(m)...); err != nil {
		return fmt.Errorf("upserting message %s: %w", m.ID, err)
	}
	return nil
}

// GetMessage retrieves a single message by id.
func (s *PostgresStore) GetMessage(
	ctx context.Context,
	id string,
) (*model.Message, error) {
	rows, err := s.pool.Query(ctx, s.d.rebind(getMessageQuery), id)
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}

	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[messageRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("getting message %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}

	m := row.toModel()
	return &m, nil
}

// ListMessages retrieves messages matching f, newest first.
func (s *PostgresStore) ListMessages(
	ctx context.Context,
	f MessageFilter,
) ([]model.Message, error) {
	query, args := s.d.listQuery(f)
	msgs, err := s.queryMessages(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return msgs, nil
}

// ThreadMessages retrieves all messages of a thread, oldest first.
func (s *PostgresStore) ThreadMessages(
	ctx context.Context,
	threadID string,
) ([]model.Message, error) {
	msgs, err := s.queryMessages(ctx, s.d.rebind(threadQuery), threadID)
	if err != nil {
		return nil, fmt.Errorf("querying thread %s: %w", threadID, err)
	}
	return msgs, nil
}

// PendingMessages retrieves messages that still need pipeline work.
func (s *PostgresStore) PendingMessages(
	ctx context.Context,
) ([]model.Message, error) {
	msgs, err := s.queryMessages(ctx, pendingQuery)
	if err != nil {
		return nil, fmt.Errorf("querying pending messages: %w", err)
	}
	return msgs, nil
}

// UpdateDraft replaces the draft of a relevant, unreplied message.
func (s *PostgresStore) UpdateDraft(ctx context.Context, id, draft string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	tag, err := s.pool.Exec(ctx, s.d.rebind(updateDraftQuery), draft, id, false)
	if err != nil {
		return fmt.Errorf("updating draft for %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	m, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	return draftGuardError(m)
}

// MarkReplied records a confirmed send.
func (s *PostgresStore) MarkReplied(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	tag, err := s.pool.Exec(ctx, s.d.rebind(markRepliedQuery), true, id)
	if err != nil {
		return fmt.Errorf("marking %s replied: %w", id, err)
	}
	return requireTag(tag, id)
}

// TouchSynced updates the synced_at timestamp only.
func (s *PostgresStore) TouchSynced(
	ctx context.Context,
	id string,
	at time.Time,
) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	tag, err := s.pool.Exec(ctx, s.d.rebind(touchSyncedQuery), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touching %s: %w", id, err)
	}
	return requireTag(tag, id)
}

// GetSyncState reads a sync bookkeeping value.
func (s *PostgresStore) GetSyncState(
	ctx context.Context,
	key string,
) (fn.Option[string], error) {
	var value string
	err := s.pool.QueryRow(ctx, s.d.rebind(getSyncStateQuery), key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return fn.None[string](), nil
	}
	if err != nil {
		return fn.None[string](), fmt.Errorf("reading sync state %s: %w",
			key, err)
	}
	return fn.Some(value), nil
}

// SetSyncState writes a sync bookkeeping value.
func (s *PostgresStore) SetSyncState(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, s.d.rebind(setSyncStateQuery),
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing sync state %s: %w", key, err)
	}
	return nil
}

// Stats summarizes the stored messages.
func (s *PostgresStore) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	rows, err := s.pool.Query(ctx, s.d.rebind(statsQuery), statsArgs(now)...)
	if err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}
	counts, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[statsRow])
	if err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}

	rows, err = s.pool.Query(ctx, priorityQuery)
	if err != nil {
		return nil, fmt.Errorf("counting priorities: %w", err)
	}
	priorities, err := pgx.CollectRows(rows, pgx.RowToStructByName[priorityRow])
	if err != nil {
		return nil, fmt.Errorf("counting priorities: %w", err)
	}

	rows, err = s.pool.Query(ctx, topSendersQuery)
	if err != nil {
		return nil, fmt.Errorf("counting senders: %w", err)
	}
	senders, err := pgx.CollectRows(rows, pgx.RowToStructByName[SenderCount])
	if err != nil {
		return nil, fmt.Errorf("counting senders: %w", err)
	}

	return buildStats(counts, priorities, senders), nil
}

// DeleteOlderThan removes messages received before cutoff.
func (s *PostgresStore) DeleteOlderThan(
	ctx context.Context,
	cutoff time.Time,
) (int64, error) {
	tag, err := s.pool.Exec(ctx, s.d.rebind(deleteOlderQuery), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting old messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) queryMessages(
	ctx context.Context,
	query string,
	args ...any,
) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[messageRow])
	if err != nil {
		return nil, err
	}
	return toModels(found), nil
}

func requireTag(tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating message %s: %w", id, model.ErrNotFound)
	}
	return nil
}
