package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one turn in a session.
type Message struct {
	ID        string
	SessionID string
	Role      string // "user" | "assistant" | "system"
	Content   string
	ThreadID  string // empty = root-level
	CreatedAt time.Time
}

type MessageRepo struct {
	db *sql.DB
}

// Add appends a turn with a timestamp strictly after every existing row in
// the session, and bumps the session's updated_at.
func (r *MessageRepo) Add(ctx context.Context, sessionID, role, content, threadID string) (*Message, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var last sql.NullTime
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM messages WHERE session_id = ?`, sessionID).Scan(&last); err != nil {
		return nil, fmt.Errorf("max timestamp: %w", err)
	}
	if last.Valid && !now.After(last.Time) {
		now = last.Time.Add(time.Microsecond)
	}

	m := &Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		ThreadID:  threadID,
		CreatedAt: now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, thread_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, nullIfEmpty(m.ThreadID), m.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

// Recent returns the newest limit messages in chronological order.
func (r *MessageRepo) Recent(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, thread_id, created_at FROM (
			SELECT * FROM messages WHERE session_id = ?
			ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	return scanMessages(rows)
}

// RecentInThread is Recent filtered to one thread. A nil thread selects
// root-level (thread-less) messages only.
func (r *MessageRepo) RecentInThread(ctx context.Context, sessionID string, threadID *string, limit int) ([]*Message, error) {
	var rows *sql.Rows
	var err error
	if threadID == nil {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, session_id, role, content, thread_id, created_at FROM (
				SELECT * FROM messages WHERE session_id = ? AND thread_id IS NULL
				ORDER BY created_at DESC LIMIT ?
			) ORDER BY created_at ASC`, sessionID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, session_id, role, content, thread_id, created_at FROM (
				SELECT * FROM messages WHERE session_id = ? AND thread_id = ?
				ORDER BY created_at DESC LIMIT ?
			) ORDER BY created_at ASC`, sessionID, *threadID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("recent in thread: %w", err)
	}
	return scanMessages(rows)
}

// Oldest returns the oldest n messages in chronological order.
func (r *MessageRepo) Oldest(ctx context.Context, sessionID string, n int) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, thread_id, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at ASC LIMIT ?`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("oldest messages: %w", err)
	}
	return scanMessages(rows)
}

func (r *MessageRepo) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// DeleteBefore removes all messages strictly older than the cutoff message
// and returns the number removed.
func (r *MessageRepo) DeleteBefore(ctx context.Context, sessionID, cutoffID string) (int, error) {
	var cutoff time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT created_at FROM messages WHERE id = ? AND session_id = ?`,
		cutoffID, sessionID).Scan(&cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("cutoff lookup: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ? AND created_at < ?`, sessionID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete before: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// InsertSummary inserts a system-role message timestamped just before the
// session's current oldest message, so it sorts first.
func (r *MessageRepo) InsertSummary(ctx context.Context, sessionID, text string) (*Message, error) {
	var oldest sql.NullTime
	if err := r.db.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM messages WHERE session_id = ?`, sessionID).Scan(&oldest); err != nil {
		return nil, fmt.Errorf("min timestamp: %w", err)
	}
	ts := time.Now().UTC()
	if oldest.Valid {
		ts = oldest.Time.Add(-time.Microsecond)
	}

	m := &Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Role:      "system",
		Content:   text,
		CreatedAt: ts,
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, thread_id, created_at)
		VALUES (?, ?, ?, ?, NULL, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, m.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert summary: %w", err)
	}
	return m, nil
}

// CompactTx atomically deletes everything older than cutoffID and inserts a
// summary row at the cut point. Either both happen or neither.
func (r *MessageRepo) CompactTx(ctx context.Context, sessionID, cutoffID, summary string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var cutoff time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT created_at FROM messages WHERE id = ? AND session_id = ?`,
		cutoffID, sessionID).Scan(&cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("cutoff lookup: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ? AND created_at < ?`, sessionID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete before: %w", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, thread_id, created_at)
		VALUES (?, ?, 'system', ?, NULL, ?)`,
		uuid.Must(uuid.NewV7()).String(), sessionID, summary, cutoff.Add(-time.Microsecond)); err != nil {
		return 0, fmt.Errorf("insert summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(removed), nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	defer rows.Close()
	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		var thread sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &thread, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ThreadID = thread.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
