package notifier_config

import (
	common "github.com/NordCoder/Sitewatch/internal/config/common"
	"github.com/NordCoder/Sitewatch/internal/services/notifier"
)

func Load(path string, envFiles ...string) (*Config, error) {
	v, err := common.NewViper(path, envFiles...)
	if err != nil {
		return nil, err
	}
	common.SetDefaults(v, "notifier")

	v.SetDefault("server.metrics_addr", ":8084")

	v.SetDefault("consumer.group_id", "sitewatch-notifier")
	v.SetDefault("consumer.from_beginning", false)
	v.SetDefault("dashboard_url", "http://localhost:3000")

	v.SetDefault("ntfy.enabled", true)
	v.SetDefault("ntfy.server", notifier.DefaultNtfyServer)
	v.SetDefault("ntfy.topic", notifier.DefaultNtfyTopic)
	v.SetDefault("ntfy.timeout", "10s")

	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.addr", "localhost:1025")
	v.SetDefault("smtp.from", "alerts@sitewatch.dev")
	v.SetDefault("smtp.use_tls", false)
	v.SetDefault("smtp.timeout", "10s")

	v.SetDefault("webhook.enabled", false)
	v.SetDefault("webhook.timeout", "10s")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SMTP.Enabled && len(cfg.SMTP.To) == 0 {
		return nil, common.ErrConfig("smtp.to is required when smtp is enabled")
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL == "" {
		return nil, common.ErrConfig("webhook.url is required when webhook is enabled")
	}
	return &cfg, nil
}
