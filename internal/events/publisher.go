// Package events publishes lifecycle events to an Iggy broker over its
// HTTP API. Publishing is strictly best-effort: a broker outage must
// never slow down or fail the pipeline.
package events

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the gateway.
const (
	TypeConversationStarted = "conversation.started"
	TypeConversationEnded   = "conversation.ended"
	TypeMessageReceived     = "message.received"
	TypeMessageProcessed    = "message.processed"
	TypeToolExecuted        = "tool.executed"
)

// Event is the wire payload, base64-wrapped into an Iggy message.
type Event struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Subject        string         `json:"subject,omitempty"`
	Source         string         `json:"source"`
	Data           map[string]any `json:"data,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	OrganizationID string         `json:"organization_id,omitempty"`
}

// Publisher posts events to one stream, with a per-organization topic
// created lazily on first publish. A Publisher that failed to
// initialize (or a nil Publisher) turns every publish into a no-op.
type Publisher struct {
	baseURL string
	user    string
	pass    string
	stream  string
	orgID   string
	source  string
	client  *http.Client

	mu          sync.Mutex
	token       string
	topicsKnown map[string]bool
	tap         func(Event)

	wg sync.WaitGroup
}

// NewLocal returns a publisher with no broker: publishes only reach the
// local tap. Used when the events backend is disabled but the admin
// feed still wants lifecycle events.
func NewLocal(orgID, source string) *Publisher {
	return &Publisher{orgID: orgID, source: source, topicsKnown: make(map[string]bool)}
}

// SetTap installs a local observer invoked for every published event,
// broker or not. Set once at startup, before any Publish.
func (p *Publisher) SetTap(fn func(Event)) {
	if p != nil {
		p.tap = fn
	}
}

// New logs in and ensures the stream exists. On failure it returns nil
// and the error; callers keep the nil and move on.
func New(ctx context.Context, host string, port int, user, pass, stream, orgID, source string) (*Publisher, error) {
	p := &Publisher{
		baseURL:     fmt.Sprintf("http://%s:%d", host, port),
		user:        user,
		pass:        pass,
		stream:      stream,
		orgID:       orgID,
		source:      source,
		client:      &http.Client{Timeout: 10 * time.Second},
		topicsKnown: make(map[string]bool),
	}
	if err := p.login(ctx); err != nil {
		return nil, fmt.Errorf("events login: %w", err)
	}
	if err := p.ensureStream(ctx); err != nil {
		return nil, fmt.Errorf("events stream: %w", err)
	}
	slog.Info("events.connected", "broker", p.baseURL, "stream", stream)
	return p, nil
}

// Publish fires an asynchronous post and returns immediately. Failures
// are logged at warn level and never propagate.
func (p *Publisher) Publish(eventType, subject string, data map[string]any) {
	if p == nil {
		return
	}
	ev := Event{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Type:           eventType,
		Subject:        subject,
		Source:         p.source,
		Data:           data,
		Timestamp:      time.Now().UTC(),
		OrganizationID: p.orgID,
	}
	if p.tap != nil {
		p.tap(ev)
	}
	if p.baseURL == "" {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := p.post(ctx, ev); err != nil {
			slog.Warn("events.publish_failed", "type", eventType, "error", err)
		}
	}()
}

// Close waits for in-flight publishes to finish.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.wg.Wait()
}

func (p *Publisher) post(ctx context.Context, ev Event) error {
	topic := p.topicName()
	if err := p.ensureTopic(ctx, topic); err != nil {
		return err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	body := map[string]any{
		"partitioning": map[string]any{"kind": "balanced"},
		"messages": []map[string]any{
			{"payload": base64.StdEncoding.EncodeToString(payload)},
		},
	}
	path := fmt.Sprintf("/streams/%s/topics/%s/messages", p.stream, topic)
	return p.do(ctx, http.MethodPost, path, body, nil)
}

func (p *Publisher) topicName() string {
	if p.orgID != "" {
		return "org-" + p.orgID
	}
	return "default"
}

func (p *Publisher) login(ctx context.Context) error {
	var resp struct {
		AccessToken struct {
			Token string `json:"token"`
		} `json:"access_token"`
	}
	err := p.doRaw(ctx, http.MethodPost, "/users/login",
		map[string]any{"username": p.user, "password": p.pass}, &resp, false)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.token = resp.AccessToken.Token
	p.mu.Unlock()
	return nil
}

func (p *Publisher) ensureStream(ctx context.Context) error {
	err := p.do(ctx, http.MethodPost, "/streams", map[string]any{"name": p.stream}, nil)
	if isConflict(err) {
		return nil
	}
	return err
}

// ensureTopic creates the per-organization topic once; later publishes
// skip the round trip.
func (p *Publisher) ensureTopic(ctx context.Context, topic string) error {
	p.mu.Lock()
	known := p.topicsKnown[topic]
	p.mu.Unlock()
	if known {
		return nil
	}

	err := p.do(ctx, http.MethodPost, "/streams/"+p.stream+"/topics",
		map[string]any{"name": topic, "partitions_count": 1}, nil)
	if err != nil && !isConflict(err) {
		return err
	}
	p.mu.Lock()
	p.topicsKnown[topic] = true
	p.mu.Unlock()
	return nil
}

// do performs an authenticated call, retrying once after a relogin when
// the token has expired.
func (p *Publisher) do(ctx context.Context, method, path string, body, out any) error {
	err := p.doRaw(ctx, method, path, body, out, true)
	if isUnauthorized(err) {
		if lerr := p.login(ctx); lerr != nil {
			return lerr
		}
		return p.doRaw(ctx, method, path, body, out, true)
	}
	return err
}

func (p *Publisher) doRaw(ctx context.Context, method, path string, body, out any, auth bool) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth {
		p.mu.Lock()
		token := p.token
		p.mu.Unlock()
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{status: resp.StatusCode, body: string(data)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("iggy http %d: %s", e.status, e.body)
}

func isConflict(err error) bool {
	ae, ok := err.(*apiError)
	return ok && (ae.status == http.StatusConflict || ae.status == http.StatusBadRequest)
}

func isUnauthorized(err error) bool {
	ae, ok := err.(*apiError)
	return ok && ae.status == http.StatusUnauthorized
}
