// Package store ingests NDJSON event-log records into a local relational
// store for offline correlation, mirroring the shape of
// original_source/tools/ingest_sqlite.py's events table.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
  id INTEGER PRIMARY KEY,
  seq INTEGER NOT NULL,
  ts_ms REAL NOT NULL,
  type TEXT NOT NULL,
  msg TEXT,
  plate TEXT,
  t_rel_ms REAL,
  session_id TEXT,
  pid INTEGER,
  schema TEXT,
  data_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts_ms);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_sess_seq ON events(session_id, seq);
`

const insertSQL = `
INSERT OR IGNORE INTO events(seq, ts_ms, type, msg, plate, t_rel_ms, session_id, pid, schema, data_json)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Open opens (creating if necessary) the SQLite database at path in WAL
// mode and ensures the events schema exists.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return db, nil
}
