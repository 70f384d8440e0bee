package alert

import (
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/target"
)

type EventType string

const (
	EventOpened       EventType = "opened"
	EventRepeated     EventType = "repeated"
	EventAcknowledged EventType = "acknowledged"
	EventResolved     EventType = "resolved"
)

// Event is the payload handed to notification channels.
type Event struct {
	TargetID    int64          `json:"targetID"`
	TargetName  string         `json:"targetName"`
	TargetURL   string         `json:"targetURL"`
	Kind        target.Kind    `json:"kind"`
	Severity    Severity       `json:"severity"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	AlertID     string         `json:"alertID"`
	AlertStatus Status         `json:"alertStatus"`
	EventType   EventType      `json:"eventType"`
	OccurredAt  time.Time      `json:"occurredAt"`
}

func NewEvent(t *target.Target, a *Alert, typ EventType, at time.Time) Event {
	ev := Event{
		TargetID:    a.TargetID,
		Kind:        a.Kind,
		Severity:    a.Severity,
		Message:     a.Message,
		Details:     a.Details,
		AlertID:     a.ID,
		AlertStatus: a.Status,
		EventType:   typ,
		OccurredAt:  at,
	}
	if t != nil {
		ev.TargetName = t.DisplayName()
		ev.TargetURL = t.URL
	}
	if typ == EventResolved && a.ResolutionNote != "" {
		ev.Message = a.ResolutionNote
	}
	return ev
}

// Key is the idempotency key of the event.
func (e Event) Key() string {
	return e.AlertID + ":" + string(e.EventType) + ":" + e.OccurredAt.UTC().Format(time.RFC3339Nano)
}
