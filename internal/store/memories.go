package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Memory categories.
const (
	CategoryPreference = "preference"
	CategoryFact       = "fact"
	CategoryCorrection = "correction"
	CategoryGeneral    = "general"
)

// Memory is a durable fact about a user.
type Memory struct {
	ID            string
	UserID        string
	Category      string
	Content       string
	Tags          []string
	Pinned        bool
	AccessCount   int
	Embedding     []byte // little-endian float32 blob; nil = not embedded yet
	ContentHash   string
	SourceSession string
	SourceChannel string
	DeviceID      string
	CloudID       string
	DeletedAt     *time.Time
	SyncedAt      *time.Time
	CreatedAt     time.Time
	AccessedAt    time.Time
	UpdatedAt     time.Time
}

// HashContent returns the dedup identity of a memory: SHA-256 over the
// whitespace-normalized, lowercased content.
func HashContent(content string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(content), " "))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// VectorMirror receives embedding writes so a secondary ANN index stays in
// step with the row table. The row table is authoritative.
type VectorMirror interface {
	Add(id string, embedding []byte)
	Remove(id string)
}

type MemoryRepo struct {
	db     *sql.DB
	mirror VectorMirror
}

// SetMirror attaches the ANN mirror. Must be called before concurrent use.
func (r *MemoryRepo) SetMirror(m VectorMirror) { r.mirror = m }

// Add writes the memory row and, if an embedding is present, mirrors it
// into the ANN index. Duplicate content (same user, same content hash)
// fails the unique constraint; use ExistsByContentHash first to skip.
func (r *MemoryRepo) Add(ctx context.Context, m *Memory) error {
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV7()).String()
	}
	if m.Category == "" {
		m.Category = CategoryGeneral
	}
	if m.ContentHash == "" {
		m.ContentHash = HashContent(m.Content)
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.AccessedAt = now
	m.UpdatedAt = now

	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, category, content, tags, pinned, access_count,
			embedding, content_hash, source_session, source_channel, device_id, cloud_id,
			created_at, accessed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Category, m.Content, string(tags), m.Pinned,
		m.Embedding, m.ContentHash, nullIfEmpty(m.SourceSession), nullIfEmpty(m.SourceChannel),
		m.DeviceID, nullIfEmpty(m.CloudID), m.CreatedAt, m.AccessedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}

	if r.mirror != nil && m.Embedding != nil {
		r.mirror.Add(m.ID, m.Embedding)
	}
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (*Memory, error) {
	row := r.db.QueryRowContext(ctx, memorySelect+` WHERE id = ?`, id)
	m, err := scanMemoryRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// SearchLexical matches the query as a case-insensitive substring over
// content and tags, newest-accessed first.
func (r *MemoryRepo) SearchLexical(ctx context.Context, userID, query string, limit int) ([]*Memory, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := r.db.QueryContext(ctx, memorySelect+`
		WHERE user_id = ? AND deleted_at IS NULL
		  AND (LOWER(content) LIKE ? OR LOWER(tags) LIKE ?)
		ORDER BY accessed_at DESC LIMIT ?`, userID, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	return scanMemories(rows)
}

// GetContext returns memories for prompt injection: pinned first, then by
// access_count desc, accessed_at desc.
func (r *MemoryRepo) GetContext(ctx context.Context, userID string, maxItems int) ([]*Memory, error) {
	rows, err := r.db.QueryContext(ctx, memorySelect+`
		WHERE user_id = ? AND deleted_at IS NULL
		ORDER BY pinned DESC, access_count DESC, accessed_at DESC
		LIMIT ?`, userID, maxItems)
	if err != nil {
		return nil, fmt.Errorf("context memories: %w", err)
	}
	return scanMemories(rows)
}

func (r *MemoryRepo) ExistsByContentHash(ctx context.Context, userID, hash string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM memories
		WHERE user_id = ? AND content_hash = ? AND deleted_at IS NULL`, userID, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("hash lookup: %w", err)
	}
	return true, nil
}

// ListByIDs resolves memory rows for ANN hits, preserving input order.
func (r *MemoryRepo) ListByIDs(ctx context.Context, ids []string) ([]*Memory, error) {
	byID := make(map[string]*Memory, len(ids))
	for _, id := range ids {
		m, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue // index may briefly lead or trail the row table
		}
		if err != nil {
			return nil, err
		}
		byID[id] = m
	}
	out := make([]*Memory, 0, len(byID))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// ListEmbedded returns (id, embedding) pairs for rebuilding the ANN index.
func (r *MemoryRepo) ListEmbedded(ctx context.Context) (map[string][]byte, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, embedding FROM memories
		WHERE embedding IS NOT NULL AND deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("list embedded: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan embedded: %w", err)
		}
		out[id] = blob
	}
	return out, rows.Err()
}

// ListActive returns all live memories for a user, for export.
func (r *MemoryRepo) ListActive(ctx context.Context, userID string, limit int) ([]*Memory, error) {
	rows, err := r.db.QueryContext(ctx, memorySelect+`
		WHERE user_id = ? AND deleted_at IS NULL
		ORDER BY pinned DESC, access_count DESC, created_at ASC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return scanMemories(rows)
}

// SetEmbedding stores a locally computed embedding (synced memories arrive
// without one) and mirrors it.
func (r *MemoryRepo) SetEmbedding(ctx context.Context, id string, embedding []byte) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE memories SET embedding = ?, updated_at = ? WHERE id = ?`,
		embedding, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if r.mirror != nil {
		r.mirror.Add(id, embedding)
	}
	return nil
}

// Touch bumps access bookkeeping for memories used in a prompt.
func (r *MemoryRepo) Touch(ctx context.Context, ids []string) error {
	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := r.db.ExecContext(ctx, `
			UPDATE memories SET access_count = access_count + 1, accessed_at = ?
			WHERE id = ?`, now, id); err != nil {
			return fmt.Errorf("touch memory: %w", err)
		}
	}
	return nil
}

// SoftDelete marks the memory deleted and drops it from the ANN mirror.
func (r *MemoryRepo) SoftDelete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE memories SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if r.mirror != nil {
		r.mirror.Remove(id)
	}
	return nil
}

// HardDelete removes the row entirely. Admin-only.
func (r *MemoryRepo) HardDelete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("hard delete: %w", err)
	}
	if r.mirror != nil {
		r.mirror.Remove(id)
	}
	return nil
}

// Unsynced returns memories not yet pushed to the cloud.
func (r *MemoryRepo) Unsynced(ctx context.Context, limit int) ([]*Memory, error) {
	rows, err := r.db.QueryContext(ctx, memorySelect+`
		WHERE synced_at IS NULL AND deleted_at IS NULL
		ORDER BY updated_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("unsynced: %w", err)
	}
	return scanMemories(rows)
}

// MarkSynced stamps the given memories as pushed.
func (r *MemoryRepo) MarkSynced(ctx context.Context, ids []string) error {
	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := r.db.ExecContext(ctx,
			`UPDATE memories SET synced_at = ? WHERE id = ?`, now, id); err != nil {
			return fmt.Errorf("mark synced: %w", err)
		}
	}
	return nil
}

const memorySelect = `
	SELECT id, user_id, category, content, tags, pinned, access_count,
	       embedding, content_hash, source_session, source_channel, device_id,
	       cloud_id, deleted_at, synced_at, created_at, accessed_at, updated_at
	FROM memories`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryRow(row rowScanner) (*Memory, error) {
	m := &Memory{}
	var tags string
	var srcSession, srcChannel, cloudID sql.NullString
	var deletedAt, syncedAt sql.NullTime
	err := row.Scan(&m.ID, &m.UserID, &m.Category, &m.Content, &tags, &m.Pinned,
		&m.AccessCount, &m.Embedding, &m.ContentHash, &srcSession, &srcChannel,
		&m.DeviceID, &cloudID, &deletedAt, &syncedAt, &m.CreatedAt, &m.AccessedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		m.Tags = nil
	}
	m.SourceSession = srcSession.String
	m.SourceChannel = srcChannel.String
	m.CloudID = cloudID.String
	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		m.SyncedAt = &t
	}
	return m, nil
}

func scanMemories(rows *sql.Rows) ([]*Memory, error) {
	defer rows.Close()
	var out []*Memory
	for rows.Next() {
		m, err := scanMemoryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
