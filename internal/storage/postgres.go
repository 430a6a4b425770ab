package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists snapshots in PostgreSQL. It also implements Locker
// with session-level advisory locks, so several replicas can share it.
// Calls made with the context returned by Lock run on the connection that
// holds the lock, so a locked section needs exactly one pooled connection.
type PostgresStore struct {
	db *pgxpool.Pool
}

// querier is the part of pgx shared by the pool and a single connection.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type lockedConnKey struct{}

// lockedConn is the connection holding an advisory lock, tagged with its store.
type lockedConn struct {
	store *PostgresStore
	conn  *pgxpool.Conn
}

// q returns the lock connection bound to ctx, or the pool.
func (s *PostgresStore) q(ctx context.Context) querier {
	if lc, ok := ctx.Value(lockedConnKey{}).(*lockedConn); ok && lc.store == s {
		return lc.conn
	}
	return s.db
}

// OpenPostgres connects a pool and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PostgresStore{db: pool}, nil
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// Get retrieves every card state of a session.
func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT card_id, reps, ef, interval_days, last_grade, due_at
		FROM memory_states WHERE session_id = $1
		ORDER BY card_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var items []domain.MemoryState
	for rows.Next() {
		var (
			st        domain.MemoryState
			lastGrade *int
			dueMillis int64
		)
		if err := rows.Scan(&st.CardID, &st.Reps, &st.Ease, &st.IntervalDays, &lastGrade, &dueMillis); err != nil {
			return nil, fmt.Errorf("failed to scan state row for session %s: %w", sessionID, err)
		}
		st.LastGrade = lastGrade
		st.DueAt = time.UnixMilli(dueMillis).UTC()
		items = append(items, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read states for session %s: %w", sessionID, err)
	}
	if items == nil {
		return nil, nil
	}
	return &domain.Snapshot{SessionID: sessionID, Items: items}, nil
}

// UpsertCard inserts or updates a single card's state.
func (s *PostgresStore) UpsertCard(ctx context.Context, sessionID string, state domain.MemoryState) error {
	if _, err := s.q(ctx).Exec(ctx, upsertPostgres, pgArgs(sessionID, state)...); err != nil {
		return fmt.Errorf("failed to upsert card %s in session %s: %w", state.CardID, sessionID, err)
	}
	return nil
}

// ReplaceAll rewrites the session inside one transaction.
func (s *PostgresStore) ReplaceAll(ctx context.Context, sessionID string, states []domain.MemoryState) error {
	return pgx.BeginFunc(ctx, s.q(ctx), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM memory_states WHERE session_id = $1`, sessionID); err != nil {
			return fmt.Errorf("failed to clear session %s: %w", sessionID, err)
		}
		batch := &pgx.Batch{}
		for _, st := range states {
			batch.Queue(upsertPostgres, pgArgs(sessionID, st)...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert states for session %s: %w", sessionID, err)
		}
		return nil
	})
}

// Lock takes a session-scoped advisory lock on a dedicated connection and
// binds that connection to the returned context.
func (s *PostgresStore) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire connection for lock %s: %w", key, err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		conn.Release()
		return nil, nil, fmt.Errorf("failed to lock %s: %w", key, err)
	}
	locked := context.WithValue(ctx, lockedConnKey{}, &lockedConn{store: s, conn: conn})
	return locked, func() {
		// The unlock must run even if the caller's context is already done.
		_, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key)
		if err != nil {
			// A connection that may still hold the lock must not go back to the pool.
			conn.Conn().Close(context.Background())
		}
		conn.Release()
	}, nil
}

const upsertPostgres = `
	INSERT INTO memory_states (session_id, card_id, reps, ef, interval_days, last_grade, due_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (session_id, card_id) DO UPDATE SET
		reps = EXCLUDED.reps,
		ef = EXCLUDED.ef,
		interval_days = EXCLUDED.interval_days,
		last_grade = EXCLUDED.last_grade,
		due_at = EXCLUDED.due_at`

func pgArgs(sessionID string, st domain.MemoryState) []any {
	return []any{sessionID, st.CardID, st.Reps, st.Ease, st.IntervalDays, st.LastGrade, st.DueAt.UnixMilli()}
}
