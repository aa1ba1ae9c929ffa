package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PairedSender is a DM allowlist entry. A row with a non-null code is
// pending; a row with a null code is approved.
type PairedSender struct {
	ID        string
	SenderID  string
	Channel   string
	Code      string
	ExpiresAt *time.Time
	PairedAt  time.Time
}

// CodeTTL is how long a pairing code stays valid.
const CodeTTL = 10 * time.Minute

type PairingRepo struct {
	db *sql.DB
}

// IsAllowed reports whether the sender is approved on the channel.
func (r *PairingRepo) IsAllowed(ctx context.Context, senderID, channel string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM paired_senders
		WHERE sender_id = ? AND channel = ? AND code IS NULL`, senderID, channel).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pairing lookup: %w", err)
	}
	return true, nil
}

// SetPendingCode records a fresh pending code for the sender, replacing any
// prior pending code. Returns false without writing when the sender is
// already approved.
func (r *PairingRepo) SetPendingCode(ctx context.Context, senderID, channel, code string) (bool, error) {
	approved, err := r.IsAllowed(ctx, senderID, channel)
	if err != nil {
		return false, err
	}
	if approved {
		return false, nil
	}

	now := time.Now().UTC()
	expires := now.Add(CodeTTL)
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO paired_senders (id, sender_id, channel, code, expires_at, paired_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (sender_id, channel)
		DO UPDATE SET code = excluded.code, expires_at = excluded.expires_at`,
		uuid.Must(uuid.NewV7()).String(), senderID, channel, code, expires, now)
	if err != nil {
		return false, fmt.Errorf("set pending code: %w", err)
	}
	return true, nil
}

// Verify approves the sender iff code matches the unexpired pending code,
// atomically clearing it (single use).
func (r *PairingRepo) Verify(ctx context.Context, senderID, channel, code string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE paired_senders
		SET code = NULL, expires_at = NULL, paired_at = ?
		WHERE sender_id = ? AND channel = ? AND code = ? AND expires_at > ?`,
		time.Now().UTC(), senderID, channel, code, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("verify code: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Approve adds the sender directly, for allowlist administration.
func (r *PairingRepo) Approve(ctx context.Context, senderID, channel string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO paired_senders (id, sender_id, channel, code, expires_at, paired_at)
		VALUES (?, ?, ?, NULL, NULL, ?)
		ON CONFLICT (sender_id, channel)
		DO UPDATE SET code = NULL, expires_at = NULL`,
		uuid.Must(uuid.NewV7()).String(), senderID, channel, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("approve sender: %w", err)
	}
	return nil
}

// Revoke removes the sender's entry entirely.
func (r *PairingRepo) Revoke(ctx context.Context, senderID, channel string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM paired_senders WHERE sender_id = ? AND channel = ?`, senderID, channel)
	if err != nil {
		return fmt.Errorf("revoke sender: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all entries on a channel, approved and pending.
func (r *PairingRepo) List(ctx context.Context, channel string) ([]*PairedSender, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sender_id, channel, code, expires_at, paired_at
		FROM paired_senders WHERE channel = ? ORDER BY paired_at`, channel)
	if err != nil {
		return nil, fmt.Errorf("list paired: %w", err)
	}
	defer rows.Close()

	var out []*PairedSender
	for rows.Next() {
		p := &PairedSender{}
		var code sql.NullString
		var expires sql.NullTime
		if err := rows.Scan(&p.ID, &p.SenderID, &p.Channel, &code, &expires, &p.PairedAt); err != nil {
			return nil, fmt.Errorf("scan paired: %w", err)
		}
		p.Code = code.String
		if expires.Valid {
			t := expires.Time
			p.ExpiresAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
