package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is an external-identity-keyed record, created on first contact.
type User struct {
	ID         string
	ProfileRef string // path or URL of the user's life profile document
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type UserRepo struct {
	db *sql.DB
}

// FindOrCreate returns the user row for id, creating it on first contact.
// Idempotent: the same id always resolves to the same row.
func (r *UserRepo) FindOrCreate(ctx context.Context, id string) (*User, error) {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING`, id, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *UserRepo) Get(ctx context.Context, id string) (*User, error) {
	u := &User{}
	var profile sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, profile_ref, created_at, updated_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &profile, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.ProfileRef = profile.String
	return u, nil
}

func (r *UserRepo) List(ctx context.Context) ([]*User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, profile_ref, created_at, updated_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		var profile sql.NullString
		if err := rows.Scan(&u.ID, &profile, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.ProfileRef = profile.String
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetProfileRef points the user at a life profile document.
func (r *UserRepo) SetProfileRef(ctx context.Context, id, ref string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET profile_ref = ?, updated_at = ? WHERE id = ?`,
		ref, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set profile ref: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the user and cascades to sessions, messages, and memories.
// Admin-only.
func (r *UserRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
