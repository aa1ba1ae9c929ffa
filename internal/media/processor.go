// Package media converts inbound attachments into text: images go
// through a vision-capable chat model, audio through an OpenAI-style
// transcription endpoint. Documents are named but not read.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/beacon/internal/bus"
	"github.com/nextlevelbuilder/beacon/internal/providers"
)

const (
	// maxFetchBytes caps attachment downloads (10MB).
	maxFetchBytes = 10 * 1024 * 1024

	// maxImageEdge bounds the longest side before the vision call; larger
	// images burn tokens without helping the description.
	maxImageEdge = 1024

	visionPrompt = "Describe this image briefly for someone who cannot see it. Mention any text it contains."
)

// Processor implements the pipeline's AttachmentProcessor.
type Processor struct {
	provider    providers.Provider
	visionModel string

	sttBaseURL string // OpenAI-compatible /audio/transcriptions root; empty disables audio
	sttAPIKey  string
	sttModel   string

	client *http.Client
}

func NewProcessor(provider providers.Provider, visionModel, sttBaseURL, sttAPIKey, sttModel string) *Processor {
	if sttModel == "" {
		sttModel = "whisper-1"
	}
	return &Processor{
		provider:    provider,
		visionModel: visionModel,
		sttBaseURL:  strings.TrimRight(sttBaseURL, "/"),
		sttAPIKey:   sttAPIKey,
		sttModel:    sttModel,
		client:      &http.Client{Timeout: 60 * time.Second},
	}
}

// Process converts one attachment into text. Unsupported kinds return an
// empty string with no error so the pipeline skips them quietly.
func (p *Processor) Process(ctx context.Context, att bus.Attachment) (string, error) {
	switch att.Kind {
	case "image":
		return p.describeImage(ctx, att)
	case "audio":
		return p.transcribe(ctx, att)
	case "document":
		if att.FileName != "" {
			return fmt.Sprintf("[User sent a file: %s]", att.FileName), nil
		}
		return "[User sent a file]", nil
	default:
		return "", nil
	}
}

func (p *Processor) describeImage(ctx context.Context, att bus.Attachment) (string, error) {
	if p.provider == nil {
		return "", nil
	}
	data, err := p.fetch(ctx, att)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	data, mime := downscale(data)

	resp, err := p.provider.Chat(ctx, providers.ChatRequest{
		Model: p.visionModel,
		Messages: []providers.Message{{
			Role:    "user",
			Content: visionPrompt,
			Images: []providers.ImageContent{{
				MimeType: mime,
				Data:     base64.StdEncoding.EncodeToString(data),
			}},
		}},
		Options: map[string]any{providers.OptMaxTokens: 300},
	})
	if err != nil {
		return "", fmt.Errorf("vision: %w", err)
	}
	if resp.Content == "" {
		return "", nil
	}
	return "[Image: " + resp.Content + "]", nil
}

// downscale re-encodes the image as JPEG with the longest edge capped.
// Undecodable input passes through untouched with its best-guess MIME.
func downscale(data []byte) ([]byte, string) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return data, http.DetectContentType(data)
	}
	b := img.Bounds()
	if b.Dx() > maxImageEdge || b.Dy() > maxImageEdge {
		img = imaging.Fit(img, maxImageEdge, maxImageEdge, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return data, http.DetectContentType(data)
	}
	return buf.Bytes(), "image/jpeg"
}

func (p *Processor) transcribe(ctx context.Context, att bus.Attachment) (string, error) {
	if p.sttBaseURL == "" {
		return "[User sent a voice message]", nil
	}
	data, err := p.fetch(ctx, att)
	if err != nil {
		return "", fmt.Errorf("fetch audio: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	name := att.FileName
	if name == "" {
		name = "audio.ogg"
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	w.WriteField("model", p.sttModel)
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sttBaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if p.sttAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.sttAPIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &providers.HTTPError{Status: resp.StatusCode, Body: string(b)}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	if out.Text == "" {
		return "", nil
	}
	return "[Voice message transcript: " + out.Text + "]", nil
}

// fetch resolves the attachment bytes, preferring inline data.
func (p *Processor) fetch(ctx context.Context, att bus.Attachment) ([]byte, error) {
	if len(att.Data) > 0 {
		return att.Data, nil
	}
	if att.URL == "" {
		return nil, fmt.Errorf("attachment has no data or url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %q: status %d", att.URL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
}
