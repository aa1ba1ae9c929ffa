package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GroupConfig is a per-group override for Telegram group behavior.
// Nil pointer fields fall back to the channel-wide default.
type GroupConfig struct {
	ChatID         string    `json:"chat_id"`
	Title          string    `json:"title,omitempty"`
	RequireMention *bool     `json:"require_mention,omitempty"`
	ReactionLevel  *string   `json:"reaction_level,omitempty"`
	AckEmoji       *string   `json:"ack_emoji,omitempty"`
	DoneEmoji      *string   `json:"done_emoji,omitempty"`
	Enabled        bool      `json:"enabled"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type GroupConfigRepo struct {
	db *sql.DB
}

func (r *GroupConfigRepo) Get(ctx context.Context, chatID string) (*GroupConfig, error) {
	g := &GroupConfig{}
	var title sql.NullString
	var requireMention sql.NullBool
	var reaction, ack, done sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT chat_id, title, require_mention, reaction_level, ack_emoji, done_emoji, enabled, updated_at
		FROM group_configs WHERE chat_id = ?`, chatID).
		Scan(&g.ChatID, &title, &requireMention, &reaction, &ack, &done, &g.Enabled, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group config: %w", err)
	}
	g.Title = title.String
	if requireMention.Valid {
		v := requireMention.Bool
		g.RequireMention = &v
	}
	if reaction.Valid {
		v := reaction.String
		g.ReactionLevel = &v
	}
	if ack.Valid {
		v := ack.String
		g.AckEmoji = &v
	}
	if done.Valid {
		v := done.String
		g.DoneEmoji = &v
	}
	return g, nil
}

func (r *GroupConfigRepo) Put(ctx context.Context, g *GroupConfig) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO group_configs (chat_id, title, require_mention, reaction_level, ack_emoji, done_emoji, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET
			title = excluded.title,
			require_mention = excluded.require_mention,
			reaction_level = excluded.reaction_level,
			ack_emoji = excluded.ack_emoji,
			done_emoji = excluded.done_emoji,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		g.ChatID, nullIfEmpty(g.Title), nilBool(g.RequireMention), nilStr(g.ReactionLevel),
		nilStr(g.AckEmoji), nilStr(g.DoneEmoji), g.Enabled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("put group config: %w", err)
	}
	return nil
}

func (r *GroupConfigRepo) Delete(ctx context.Context, chatID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM group_configs WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("delete group config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GroupConfigRepo) List(ctx context.Context) ([]*GroupConfig, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT chat_id FROM group_configs ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list group configs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*GroupConfig, 0, len(ids))
	for _, id := range ids {
		g, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func nilBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func nilStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
