package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Discord rejects embeds with more than 25 fields.
const maxEmbedFields = 25

// WebhookChannel posts messages to a Discord-compatible chat webhook.
type WebhookChannel struct {
	URL      string
	Username string
	Client   *http.Client
}

func NewWebhookChannel(url, username string) *WebhookChannel {
	return &WebhookChannel{
		URL:      url,
		Username: username,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Username string         `json:"username,omitempty"`
	Content  string         `json:"content,omitempty"`
	Embeds   []webhookEmbed `json:"embeds"`
}

type webhookEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []Field        `json:"fields,omitempty"`
	Footer      *webhookFooter `json:"footer,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

type webhookFooter struct {
	Text string `json:"text"`
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Enabled(Message) bool { return w.URL != "" }

func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(buildWebhookPayload(w.Username, msg))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

func buildWebhookPayload(username string, msg Message) webhookPayload {
	fields := make([]Field, 0, len(msg.Fields))
	for _, f := range msg.Fields {
		if len(fields) == maxEmbedFields {
			break
		}
		// Discord rejects empty field values.
		if f.Value == "" {
			f.Value = unknown
		}
		fields = append(fields, f)
	}

	embed := webhookEmbed{
		Title:       msg.Title,
		Description: msg.Description,
		Color:       msg.Color,
		Fields:      fields,
	}
	if msg.Footer != "" {
		embed.Footer = &webhookFooter{Text: msg.Footer}
	}
	if !msg.Timestamp.IsZero() {
		embed.Timestamp = msg.Timestamp.UTC().Format(time.RFC3339)
	}

	return webhookPayload{
		Username: username,
		Content:  msg.Content,
		Embeds:   []webhookEmbed{embed},
	}
}
