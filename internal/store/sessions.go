package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is one (channel, channel_id) locus of conversation for a user.
type Session struct {
	ID        string
	UserID    string
	Channel   string
	ChannelID string
	PersonaID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SessionRepo struct {
	db *sql.DB
}

// FindOrCreate is the only ingress for sessions: it returns the existing
// row for (channel, channelID) or creates one. The created flag reports
// whether this call made the row.
func (r *SessionRepo) FindOrCreate(ctx context.Context, userID, channel, channelID, personaID string) (*Session, bool, error) {
	s, err := r.getByLocus(ctx, channel, channelID)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	id := uuid.Must(uuid.NewV7()).String()
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, channel, channel_id, persona_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel, channel_id) DO NOTHING`,
		id, userID, channel, channelID, personaID, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}

	// Re-read: a concurrent creator may have won the conflict.
	s, err = r.getByLocus(ctx, channel, channelID)
	if err != nil {
		return nil, false, err
	}
	return s, s.ID == id, nil
}

func (r *SessionRepo) getByLocus(ctx context.Context, channel, channelID string) (*Session, error) {
	s := &Session{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, channel, channel_id, persona_id, created_at, updated_at
		FROM sessions WHERE channel = ? AND channel_id = ?`, channel, channelID).
		Scan(&s.ID, &s.UserID, &s.Channel, &s.ChannelID, &s.PersonaID, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*Session, error) {
	s := &Session{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, channel, channel_id, persona_id, created_at, updated_at
		FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.UserID, &s.Channel, &s.ChannelID, &s.PersonaID, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func (r *SessionRepo) List(ctx context.Context) ([]*Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, channel, channel_id, persona_id, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s := &Session{}
		if err := rows.Scan(&s.ID, &s.UserID, &s.Channel, &s.ChannelID, &s.PersonaID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
