package storage

const sqliteSchema = `
-- One row per card per session. due_at holds Unix milliseconds.
CREATE TABLE IF NOT EXISTS memory_states (
    session_id TEXT NOT NULL,
    card_id TEXT NOT NULL,
    reps INTEGER NOT NULL DEFAULT 0,
    ef REAL NOT NULL DEFAULT 2.5,
    interval_days INTEGER NOT NULL DEFAULT 0,
    last_grade INTEGER,
    due_at INTEGER NOT NULL,

    PRIMARY KEY (session_id, card_id)
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS memory_states (
    session_id TEXT NOT NULL,
    card_id TEXT NOT NULL,
    reps INTEGER NOT NULL DEFAULT 0 CHECK (reps >= 0),
    ef DOUBLE PRECISION NOT NULL DEFAULT 2.5 CHECK (ef >= 1.3 AND ef <= 3.0),
    interval_days INTEGER NOT NULL DEFAULT 0 CHECK (interval_days >= 0),
    last_grade SMALLINT CHECK (last_grade BETWEEN 0 AND 5),
    due_at BIGINT NOT NULL,
    PRIMARY KEY (session_id, card_id)
);
`
