//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"github.com/stretchr/testify/require"
)

// triggerWhenKnown retries the manual trigger until the monitor's resync has picked the target up.
func triggerWhenKnown(t *testing.T, base string, id int64, timeout time.Duration) {
	t.Helper()
	url := fmt.Sprintf("%s/api/v1/targets/%d/checks?kind=availability", base, id)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		code, body := HTTPDo(t, http.MethodPost, url, nil)
		switch code {
		case http.StatusAccepted:
			return
		case http.StatusNotFound, http.StatusConflict:
			time.Sleep(time.Second)
		default:
			t.Fatalf("trigger: %d %s", code, body)
		}
	}
	t.Fatalf("target %d never became known to the monitor", id)
}

func waitActiveAlert(t *testing.T, base string, id int64, timeout time.Duration) *alert.Alert {
	t.Helper()
	url := fmt.Sprintf("%s/api/v1/alerts?target_id=%d&kind=availability", base, id)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		code, body := HTTPDo(t, http.MethodGet, url, nil)
		require.Equal(t, http.StatusOK, code, string(body))
		var out []*alert.Alert
		require.NoError(t, json.Unmarshal(body, &out))
		for _, a := range out {
			if a.Status.Active() {
				return a
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("no active alert for target %d", id)
	return nil
}

func TestMonitor_DeadSite_OpensAlertAndPublishes(t *testing.T) {
	cfg := LoadCfg()
	WaitHealthz(t, cfg.MonitorBase+"/healthz", 90*time.Second)
	EnsureTopic(t, cfg.KafkaBootstrap, cfg.AlertsTopic)

	db := DBOpen(t, cfg.DBDSN)
	defer db.Close()

	id := SeedTarget(t, db, fmt.Sprintf("it-dead-%d", RandID()), cfg.DeadURL)
	triggerWhenKnown(t, cfg.MonitorBase, id, 60*time.Second)

	a := waitActiveAlert(t, cfg.MonitorBase, id, 30*time.Second)
	require.Equal(t, target.KindAvailability, a.Kind)
	require.Equal(t, alert.SeverityCritical, a.Severity)

	ev, ok := ReadJSONUntil(t, cfg.KafkaBootstrap, cfg.AlertsTopic, fmt.Sprintf("it-monitor-%d", id), 30*time.Second,
		func(ev alert.Event) bool { return ev.AlertID == a.ID })
	require.True(t, ok, "alert event not relayed")
	require.Equal(t, alert.EventOpened, ev.EventType)
	require.Equal(t, id, ev.TargetID)

	// acknowledge then resolve through the API
	code, body := HTTPDo(t, http.MethodPost, fmt.Sprintf("%s/api/v1/alerts/%s/acknowledge", cfg.MonitorBase, a.ID), nil)
	require.Equal(t, http.StatusOK, code, string(body))
	code, body = HTTPDo(t, http.MethodPost, fmt.Sprintf("%s/api/v1/alerts/%s/resolve", cfg.MonitorBase, a.ID),
		[]byte(`{"note":"handled in test"}`))
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = HTTPDo(t, http.MethodGet, fmt.Sprintf("%s/api/v1/alerts/%s", cfg.MonitorBase, a.ID), nil)
	require.Equal(t, http.StatusOK, code)
	var got alert.Alert
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, alert.StatusResolved, got.Status)
	require.Equal(t, "handled in test", got.ResolutionNote)
}

func TestMonitor_UnknownTarget_404(t *testing.T) {
	cfg := LoadCfg()
	WaitHealthz(t, cfg.MonitorBase+"/healthz", 90*time.Second)

	code, _ := HTTPDo(t, http.MethodPost, fmt.Sprintf("%s/api/v1/targets/%d/checks", cfg.MonitorBase, 1<<40), nil)
	require.Equal(t, http.StatusNotFound, code)
}
