package notifier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/notification"
	"github.com/NordCoder/Sitewatch/internal/obs"
	"github.com/NordCoder/Sitewatch/internal/obs/retry"
)

type NtfyConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	Server  string            `mapstructure:"server"`
	Topic   string            `mapstructure:"topic"`
	Topics  map[string]string `mapstructure:"topics"` // per check kind
	Token   string            `mapstructure:"token"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

const (
	DefaultNtfyServer = "https://ntfy.sh"
	DefaultNtfyTopic  = "sitewatch-alerts"
)

type Ntfy struct {
	cfg    NtfyConfig
	client *http.Client
}

func NewNtfy(cfg NtfyConfig) *Ntfy {
	if cfg.Server == "" {
		cfg.Server = DefaultNtfyServer
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultNtfyTopic
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.Server = strings.TrimRight(cfg.Server, "/")
	return &Ntfy{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: obs.HTTPTransport(http.DefaultTransport)},
	}
}

func (n *Ntfy) Name() string { return "ntfy" }

func (n *Ntfy) topic(m notification.Message) string {
	if t := n.cfg.Topics[string(m.Event.Kind)]; t != "" {
		return t
	}
	return n.cfg.Topic
}

func actionsHeader(as []notification.Action) string {
	parts := make([]string, 0, len(as))
	for _, a := range as {
		parts = append(parts, fmt.Sprintf("action=view, label=%s, url=%s", a.Label, a.URL))
	}
	return strings.Join(parts, "; ")
}

func (n *Ntfy) Send(ctx context.Context, m notification.Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.Server+"/"+n.topic(m), strings.NewReader(m.Body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Title", m.Title)
	req.Header.Set("Priority", string(m.Priority))
	if len(m.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(m.Tags, ","))
	}
	if m.Click != "" {
		req.Header.Set("Click", m.Click)
	}
	if len(m.Actions) > 0 {
		req.Header.Set("Actions", actionsHeader(m.Actions))
	}
	if n.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.cfg.Token)
	}
	return do(n.client, req)
}

// do sends req and classifies the status: 4xx other than 429 is not retried.
func do(c *http.Client, req *http.Request) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 300 {
		return nil
	}
	err = fmt.Errorf("%s: HTTP %d: %s", req.URL.Host, resp.StatusCode, strings.TrimSpace(string(msg)))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}
