package store

import (
	"context"
	"fmt"

	"github.com/convomem/convomem/internal/vecenc"
)

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	summary      TEXT NOT NULL DEFAULT '',
	keywords     TEXT NOT NULL DEFAULT '[]',
	work_dir     TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	token_count  INTEGER NOT NULL DEFAULT 0,
	is_archived  INTEGER NOT NULL DEFAULT 0,
	sync_status  TEXT NOT NULL DEFAULT 'local',
	sync_version INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role          TEXT NOT NULL,
	content       TEXT NOT NULL,
	token_count   INTEGER NOT NULL DEFAULT 0,
	timestamp     INTEGER NOT NULL,
	has_code      INTEGER NOT NULL DEFAULT 0,
	code_language TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_messages_session_ts ON messages(session_id, timestamp);

CREATE TABLE IF NOT EXISTS session_vectors (
	session_id TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
	embedding  BLOB NOT NULL
);

-- reserved: see §9 "Open question" — persisted verbatim, never acted on
CREATE TABLE IF NOT EXISTS sync_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	sync_type     TEXT NOT NULL,
	session_id    TEXT NOT NULL,
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	timestamp     INTEGER NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS sessions_fts USING fts5(
	title, summary, keywords,
	content='sessions', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS sessions_ai AFTER INSERT ON sessions BEGIN
	INSERT INTO sessions_fts(rowid, title, summary, keywords)
	VALUES (new.rowid, new.title, new.summary, new.keywords);
END;
CREATE TRIGGER IF NOT EXISTS sessions_ad AFTER DELETE ON sessions BEGIN
	INSERT INTO sessions_fts(sessions_fts, rowid, title, summary, keywords)
	VALUES ('delete', old.rowid, old.title, old.summary, old.keywords);
END;
CREATE TRIGGER IF NOT EXISTS sessions_au AFTER UPDATE ON sessions BEGIN
	INSERT INTO sessions_fts(sessions_fts, rowid, title, summary, keywords)
	VALUES ('delete', old.rowid, old.title, old.summary, old.keywords);
	INSERT INTO sessions_fts(rowid, title, summary, keywords)
	VALUES (new.rowid, new.title, new.summary, new.keywords);
END;
`

// createSchema migrates the database. It is additive and idempotent:
// every statement uses IF NOT EXISTS.
func (s *Store) createSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// loadVectors populates the in-memory session vector map from
// session_vectors on startup. Failure here is recoverable per §4.A: the
// store degrades to vec_available=false rather than failing Init.
func (s *Store) loadVectors(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT session_id, embedding FROM session_vectors")
	if err != nil {
		return fmt.Errorf("load vectors: %w", err)
	}
	defer rows.Close()

	vectors := make(map[string][]float32)
	for rows.Next() {
		var sessionID string
		var blob []byte
		if err := rows.Scan(&sessionID, &blob); err != nil {
			return fmt.Errorf("scan vector row: %w", err)
		}
		vec, err := vecenc.DecodeVector(blob)
		if err != nil {
			s.logger.Warn("skipping malformed stored vector", "session_id", sessionID, "error", err)
			continue
		}
		vectors[sessionID] = vec
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load vectors: %w", err)
	}

	s.vectors = vectors
	return nil
}
