package notifier_config

import (
	common "github.com/NordCoder/Sitewatch/internal/config/common"
	"github.com/NordCoder/Sitewatch/internal/services/notifier"
)

type Consumer struct {
	GroupID       string `mapstructure:"group_id"`
	FromBeginning bool   `mapstructure:"from_beginning"`
}

type Config struct {
	common.Base `mapstructure:",squash"`

	Consumer     Consumer               `mapstructure:"consumer"`
	DashboardURL string                 `mapstructure:"dashboard_url"`
	Ntfy         notifier.NtfyConfig    `mapstructure:"ntfy"`
	SMTP         notifier.SMTPConfig    `mapstructure:"smtp"`
	Webhook      notifier.WebhookConfig `mapstructure:"webhook"`
}
