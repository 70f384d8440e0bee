package notifier_config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "notifier.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return Load(path, filepath.Join(dir, "missing.env"))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, "")
	require.NoError(t, err)

	assert.Equal(t, "notifier", cfg.App.Name)
	assert.Equal(t, "sitewatch-notifier", cfg.Consumer.GroupID)
	assert.True(t, cfg.Ntfy.Enabled)
	assert.False(t, cfg.SMTP.Enabled)
	assert.False(t, cfg.Webhook.Enabled)
	assert.Equal(t, ":8084", cfg.Server.MetricsAddr)
}

func TestLoad_SMTPNeedsRecipients(t *testing.T) {
	_, err := load(t, "smtp:\n  enabled: true\n")
	require.ErrorContains(t, err, "smtp.to")

	cfg, err := load(t, "smtp:\n  enabled: true\n  to: [ops@example.com]\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"ops@example.com"}, cfg.SMTP.To)
}

func TestLoad_WebhookNeedsURL(t *testing.T) {
	_, err := load(t, "webhook:\n  enabled: true\n")
	require.ErrorContains(t, err, "webhook.url")
}
