package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/NordCoder/Sitewatch/internal/domain/notification"
	"github.com/NordCoder/Sitewatch/internal/obs"
	"github.com/NordCoder/Sitewatch/internal/obs/retry"
)

type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Webhook posts Slack-compatible incoming-webhook payloads.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Webhook{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout, Transport: obs.HTTPTransport(http.DefaultTransport)},
	}
}

func (w *Webhook) Name() string { return "webhook" }

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color     string       `json:"color"`
	Title     string       `json:"title"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text"`
	Fields    []slackField `json:"fields,omitempty"`
	Ts        int64        `json:"ts"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

func color(ev alert.Event) string {
	if ev.EventType == alert.EventResolved {
		return "#2eb886"
	}
	switch ev.Severity {
	case alert.SeverityCritical, alert.SeverityError:
		return "#d00000"
	case alert.SeverityWarning:
		return "#daa038"
	default:
		return "#439fe0"
	}
}

func slackMessage(m notification.Message) slackPayload {
	ev := m.Event
	fields := []slackField{
		{Title: "Severity", Value: string(ev.Severity), Short: true},
		{Title: "Status", Value: string(ev.AlertStatus), Short: true},
	}
	for _, a := range m.Actions {
		fields = append(fields, slackField{Title: a.Label, Value: a.URL})
	}
	return slackPayload{
		Text: m.Title,
		Attachments: []slackAttachment{{
			Color:     color(ev),
			Title:     m.Title,
			TitleLink: m.Click,
			Text:      m.Body,
			Fields:    fields,
			Ts:        ev.OccurredAt.Unix(),
		}},
	}
}

func (w *Webhook) Send(ctx context.Context, m notification.Message) error {
	buf, err := json.Marshal(slackMessage(m))
	if err != nil {
		return retry.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(buf))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	return do(w.client, req)
}
