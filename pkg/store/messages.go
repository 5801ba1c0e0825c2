package store

import (
	"context"
	"fmt"
	"time"
)

// Message is an immutable event within a session. Messages are
// append-only: there is no edit or delete API.
type Message struct {
	ID           int64
	SessionID    string
	Role         string
	Content      string
	TokenCount   int
	Timestamp    int64
	HasCode      bool
	CodeLanguage string
}

// AddMessage appends a message to a session. Timestamp defaults to the
// current time if zero. The returned message has ID populated.
func (s *Store) AddMessage(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOpen(); err != nil {
		return wrapError("add_message", err)
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, token_count, timestamp, has_code, code_language)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.SessionID, msg.Role, msg.Content, msg.TokenCount, msg.Timestamp,
		boolToInt(msg.HasCode), msg.CodeLanguage)
	if err != nil {
		return wrapError("add_message", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return wrapError("add_message", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	msg.ID = id
	return nil
}

// GetMessages returns a session's messages in time-ascending order.
func (s *Store) GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return nil, wrapError("get_messages", err)
	}

	query := `
		SELECT id, session_id, role, content, token_count, timestamp, has_code, code_language
		FROM messages WHERE session_id = ? ORDER BY id ASC
	`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError("get_messages", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, wrapError("get_messages", fmt.Errorf("%w: %v", ErrStorageFailure, err))
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// GetRecentMessages returns the last n messages of a session, in
// time-ascending order (most recent last).
func (s *Store) GetRecentMessages(ctx context.Context, sessionID string, n int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return nil, wrapError("get_recent_messages", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, token_count, timestamp, has_code, code_language
		FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?
	`, sessionID, n)
	if err != nil {
		return nil, wrapError("get_recent_messages", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, wrapError("get_recent_messages", fmt.Errorf("%w: %v", ErrStorageFailure, err))
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("get_recent_messages", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CountMessages returns a session's message count without materializing
// any row content, for callers (like the index-manager's reindex policy)
// that only need the count.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return 0, wrapError("count_messages", err)
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&count)
	if err != nil {
		return 0, wrapError("count_messages", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	return count, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var hasCode int
	err := row.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.TokenCount,
		&msg.Timestamp, &hasCode, &msg.CodeLanguage)
	if err != nil {
		return nil, err
	}
	msg.HasCode = hasCode != 0
	return &msg, nil
}
