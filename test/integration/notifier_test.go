//go:build integration

package integration

import (
	"testing"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_OpenedEvent_SendsMailAndRecords(t *testing.T) {
	cfg := LoadCfg()
	WaitHealthz(t, cfg.NotifierHealth, 90*time.Second)
	MailhogPurge(t, cfg.MailhogAPI)
	EnsureTopic(t, cfg.KafkaBootstrap, cfg.AlertsTopic)

	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()

	ev := alert.Event{
		TargetID:    RandID(),
		TargetName:  "it-notifier",
		TargetURL:   "https://example.com",
		Kind:        target.KindAvailability,
		Severity:    alert.SeverityCritical,
		Message:     "Site it-notifier is down: connection refused",
		AlertID:     uuid.NewString(),
		AlertStatus: alert.StatusOpen,
		EventType:   alert.EventOpened,
		OccurredAt:  time.Now().UTC(),
	}
	PublishJSON(t, cfg.KafkaBootstrap, cfg.AlertsTopic, []byte(ev.AlertID), ev)

	mails := WaitMail(t, cfg.MailhogAPI, 1, 25*time.Second)
	require.Contains(t, mails[0].Subject(), "[CRITICAL]")
	require.Contains(t, mails[0].Content.Body, "connection refused")

	require.EventuallyWithT(t, func(c *assert.CollectT) {
		n, err := CountDeliveries(db, ev.AlertID)
		assert.NoError(c, err)
		assert.Positive(c, n)
	}, 10*time.Second, 250*time.Millisecond, "no delivery row for %s", ev.AlertID)
}

func TestNotifier_EventWithoutAlertID_Ignored(t *testing.T) {
	cfg := LoadCfg()
	WaitHealthz(t, cfg.NotifierHealth, 90*time.Second)
	MailhogPurge(t, cfg.MailhogAPI)
	EnsureTopic(t, cfg.KafkaBootstrap, cfg.AlertsTopic)

	PublishJSON(t, cfg.KafkaBootstrap, cfg.AlertsTopic, []byte("0"), alert.Event{EventType: alert.EventOpened})

	require.Never(t, func() bool {
		box, err := mailhogMessages(cfg.MailhogAPI)
		return err == nil && box.Total > 0
	}, 5*time.Second, 250*time.Millisecond, "mail sent for an event without alert id")
}
