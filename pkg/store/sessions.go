package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/convomem/convomem/internal/vecenc"
)

// Session is a logical conversation: ordered messages plus derived index
// fields (summary, keywords, token_count) and a fixed-dimension vector.
type Session struct {
	ID          string
	Title       string
	Summary     string
	Keywords    []string
	WorkDir     string
	CreatedAt   int64
	UpdatedAt   int64
	TokenCount  int
	IsArchived  bool
	SyncStatus  string
	SyncVersion int
}

// CreateSession inserts a new session. CreatedAt/UpdatedAt are set to the
// current time if zero.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen(); err != nil {
		return wrapError("create_session", err)
	}
	if sess.Title == "" {
		return wrapError("create_session", errors.New("store: title is required"))
	}

	now := time.Now().Unix()
	if sess.CreatedAt == 0 {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt == 0 {
		sess.UpdatedAt = sess.CreatedAt
	}
	if sess.SyncStatus == "" {
		sess.SyncStatus = "local"
	}

	keywordsJSON, err := vecenc.EncodeKeywords(sess.Keywords)
	if err != nil {
		return wrapError("create_session", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, summary, keywords, work_dir, created_at, updated_at,
			token_count, is_archived, sync_status, sync_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Title, sess.Summary, keywordsJSON, sess.WorkDir, sess.CreatedAt, sess.UpdatedAt,
		sess.TokenCount, boolToInt(sess.IsArchived), sess.SyncStatus, sess.SyncVersion)
	if err != nil {
		return wrapError("create_session", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	return nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return nil, wrapError("get_session", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, summary, keywords, work_dir, created_at, updated_at,
			token_count, is_archived, sync_status, sync_version
		FROM sessions WHERE id = ?
	`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapError("get_session", ErrNotFound)
	}
	if err != nil {
		return nil, wrapError("get_session", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	return sess, nil
}

// UpdateSession persists Title/Summary/Keywords/WorkDir/TokenCount for an
// existing session and refreshes updated_at, per invariant 2.
func (s *Store) UpdateSession(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen(); err != nil {
		return wrapError("update_session", err)
	}

	keywordsJSON, err := vecenc.EncodeKeywords(sess.Keywords)
	if err != nil {
		return wrapError("update_session", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	sess.UpdatedAt = time.Now().Unix()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET title = ?, summary = ?, keywords = ?, work_dir = ?,
			token_count = ?, updated_at = ?, sync_status = ?, sync_version = ?
		WHERE id = ?
	`, sess.Title, sess.Summary, keywordsJSON, sess.WorkDir, sess.TokenCount, sess.UpdatedAt,
		sess.SyncStatus, sess.SyncVersion, sess.ID)
	if err != nil {
		return wrapError("update_session", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrapError("update_session", ErrNotFound)
	}
	return nil
}

// ArchiveSession sets or clears the is_archived flag and refreshes
// updated_at.
func (s *Store) ArchiveSession(ctx context.Context, id string, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen(); err != nil {
		return wrapError("archive_session", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET is_archived = ?, updated_at = ? WHERE id = ?",
		boolToInt(archived), time.Now().Unix(), id)
	if err != nil {
		return wrapError("archive_session", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrapError("archive_session", ErrNotFound)
	}
	return nil
}

// ListSessions returns sessions ordered by updated_at descending.
// archived, if non-nil, restricts the listing to that archival state.
func (s *Store) ListSessions(ctx context.Context, limit, offset int, archived *bool) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return nil, wrapError("list_sessions", err)
	}

	query := `
		SELECT id, title, summary, keywords, work_dir, created_at, updated_at,
			token_count, is_archived, sync_status, sync_version
		FROM sessions
	`
	args := []any{}
	if archived != nil {
		query += " WHERE is_archived = ?"
		args = append(args, boolToInt(*archived))
	}
	query += " ORDER BY updated_at DESC"
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError("list_sessions", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, wrapError("list_sessions", fmt.Errorf("%w: %v", ErrStorageFailure, err))
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and, via ON DELETE CASCADE, all of its
// messages and vector, atomically (invariant 1).
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen(); err != nil {
		return wrapError("delete_session", err)
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return wrapError("delete_session", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	delete(s.vectors, id)
	if n, _ := res.RowsAffected(); n == 0 {
		return wrapError("delete_session", ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var keywordsJSON string
	var isArchived int

	err := row.Scan(&sess.ID, &sess.Title, &sess.Summary, &keywordsJSON, &sess.WorkDir,
		&sess.CreatedAt, &sess.UpdatedAt, &sess.TokenCount, &isArchived,
		&sess.SyncStatus, &sess.SyncVersion)
	if err != nil {
		return nil, err
	}

	sess.IsArchived = isArchived != 0
	sess.Keywords, err = vecenc.DecodeKeywords(keywordsJSON)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
