package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/beacon/internal/config"
)

const syncBatchSize = 100

// Syncer periodically pushes unsynced memories to the cloud endpoint.
// Embeddings never leave the device; the content hash is the sync identity.
type Syncer struct {
	svc    *Service
	cfg    config.SyncConfig
	client *http.Client
	cron   *gronx.Gronx
}

func NewSyncer(svc *Service, cfg config.SyncConfig) *Syncer {
	if cfg.Schedule == "" {
		cfg.Schedule = "*/15 * * * *"
	}
	return &Syncer{
		svc:    svc,
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		cron:   gronx.New(),
	}
}

// Run ticks once a minute and pushes when the cron schedule is due.
// Push failures are retried on the next due tick; nothing is marked synced
// until the server acknowledges.
func (s *Syncer) Run(ctx context.Context) {
	if !s.cron.IsValid(s.cfg.Schedule) {
		slog.Error("memory.sync.bad_schedule", "schedule", s.cfg.Schedule)
		return
	}
	slog.Info("memory.sync.started", "schedule", s.cfg.Schedule)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := s.cron.IsDue(s.cfg.Schedule, time.Now())
			if err != nil || !due {
				continue
			}
			if err := s.pushOnce(ctx); err != nil {
				slog.Warn("memory.sync.push_failed", "error", err)
			}
		}
	}
}

type syncMemory struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	Category    string   `json:"category"`
	Content     string   `json:"content"`
	Tags        []string `json:"tags"`
	Pinned      bool     `json:"pinned"`
	ContentHash string   `json:"content_hash"`
	DeviceID    string   `json:"device_id"`
	CreatedAt   string   `json:"created_at"`
}

func (s *Syncer) pushOnce(ctx context.Context) error {
	batch, err := s.svc.repo.Unsynced(ctx, syncBatchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	payload := make([]syncMemory, len(batch))
	ids := make([]string, len(batch))
	for i, m := range batch {
		ids[i] = m.ID
		payload[i] = syncMemory{
			ID:          m.ID,
			UserID:      m.UserID,
			Category:    m.Category,
			Content:     m.Content,
			Tags:        m.Tags,
			Pinned:      m.Pinned,
			ContentHash: m.ContentHash,
			DeviceID:    m.DeviceID,
			CreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339),
		}
	}

	body, err := json.Marshal(map[string]any{
		"device_id": s.cfg.DeviceID,
		"memories":  payload,
	})
	if err != nil {
		return fmt.Errorf("marshal sync batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sync request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sync push: http %d: %s", resp.StatusCode, respBody)
	}

	if err := s.svc.repo.MarkSynced(ctx, ids); err != nil {
		return err
	}
	slog.Info("memory.sync.pushed", "count", len(ids))
	return nil
}
