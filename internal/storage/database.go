package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// SQLiteStore persists snapshots in a SQLite database file.
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLite opens the database and ensures the schema is up to date.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY and
	// keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{conn: db}, nil
}

// Close closes the database connection.
func (db *SQLiteStore) Close() error {
	return db.conn.Close()
}

// Get retrieves every card state of a session.
func (db *SQLiteStore) Get(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT card_id, reps, ef, interval_days, last_grade, due_at
		FROM memory_states WHERE session_id = ?
		ORDER BY card_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var items []domain.MemoryState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state row for session %s: %w", sessionID, err)
		}
		items = append(items, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read states for session %s: %w", sessionID, err)
	}
	if items == nil {
		return nil, nil // Session not found
	}
	return &domain.Snapshot{SessionID: sessionID, Items: items}, nil
}

// UpsertCard inserts or updates a single card's state.
func (db *SQLiteStore) UpsertCard(ctx context.Context, sessionID string, state domain.MemoryState) error {
	if _, err := db.conn.ExecContext(ctx, upsertSQLite, stateArgs(sessionID, state)...); err != nil {
		return fmt.Errorf("failed to upsert card %s in session %s: %w", state.CardID, sessionID, err)
	}
	return nil
}

// ReplaceAll rewrites the session inside one transaction.
func (db *SQLiteStore) ReplaceAll(ctx context.Context, sessionID string, states []domain.MemoryState) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_states WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear session %s: %w", sessionID, err)
	}
	stmt, err := tx.PrepareContext(ctx, upsertSQLite)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, st := range states {
		if _, err := stmt.ExecContext(ctx, stateArgs(sessionID, st)...); err != nil {
			return fmt.Errorf("failed to insert card %s in session %s: %w", st.CardID, sessionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", sessionID, err)
	}
	return nil
}

const upsertSQLite = `
	INSERT INTO memory_states (session_id, card_id, reps, ef, interval_days, last_grade, due_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (session_id, card_id) DO UPDATE SET
		reps = excluded.reps,
		ef = excluded.ef,
		interval_days = excluded.interval_days,
		last_grade = excluded.last_grade,
		due_at = excluded.due_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (domain.MemoryState, error) {
	var (
		st        domain.MemoryState
		lastGrade sql.NullInt64
		dueMillis int64
	)
	if err := row.Scan(&st.CardID, &st.Reps, &st.Ease, &st.IntervalDays, &lastGrade, &dueMillis); err != nil {
		return domain.MemoryState{}, err
	}
	if lastGrade.Valid {
		g := int(lastGrade.Int64)
		st.LastGrade = &g
	}
	st.DueAt = time.UnixMilli(dueMillis).UTC()
	return st, nil
}

func stateArgs(sessionID string, st domain.MemoryState) []any {
	var lastGrade sql.NullInt64
	if st.LastGrade != nil {
		lastGrade = sql.NullInt64{Int64: int64(*st.LastGrade), Valid: true}
	}
	return []any{sessionID, st.CardID, st.Reps, st.Ease, st.IntervalDays, lastGrade, st.DueAt.UnixMilli()}
}
