// Package notify delivers operator alerts to a chat webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Kind labels what an alert is about.
type Kind string

const (
	KindBudgetThreshold  Kind = "budget_threshold"
	KindBudgetHardStop   Kind = "budget_hard_stop"
	KindHighPriorityPost Kind = "high_priority_post"
	KindReplyReady       Kind = "reply_ready"
)

// Field is one labelled value shown under the alert text.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short,omitempty"`
}

// Message is a pre-built alert payload.
type Message struct {
	Kind   Kind
	Title  string
	Text   string
	URL    string
	Fields []Field
}

// Notifier delivers alerts. Delivery is best effort: failures are logged by the implementation
// and never returned to the caller.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// Nop drops every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) {}

// WebhookNotifier posts Slack-compatible JSON to an incoming webhook URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

// New returns a WebhookNotifier for url, or Nop when url is empty.
func New(url string) Notifier {
	if url == "" {
		return Nop{}
	}
	return NewWebhookNotifier(url, 0)
}

type slackAttachment struct {
	Color     string  `json:"color,omitempty"`
	Title     string  `json:"title,omitempty"`
	TitleLink string  `json:"title_link,omitempty"`
	Text      string  `json:"text,omitempty"`
	Fields    []Field `json:"fields,omitempty"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

func colorFor(k Kind) string {
	switch k {
	case KindBudgetHardStop:
		return "danger"
	case KindBudgetThreshold:
		return "warning"
	default:
		return "good"
	}
}

func buildPayload(msg Message) slackPayload {
	return slackPayload{
		Text: msg.Title,
		Attachments: []slackAttachment{{
			Color:     colorFor(msg.Kind),
			Title:     msg.Title,
			TitleLink: msg.URL,
			Text:      msg.Text,
			Fields:    msg.Fields,
		}},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, msg Message) {
	if err := n.send(ctx, msg); err != nil {
		log.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("alert delivery failed")
	}
}

func (n *WebhookNotifier) send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(buildPayload(msg))
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook http %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
