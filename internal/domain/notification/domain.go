package notification

import (
	"context"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
)

type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

type Delivery struct {
	ID        int64           `json:"id"`
	AlertID   string          `json:"alert_id"`
	Channel   string          `json:"channel"`
	EventType alert.EventType `json:"event_type"`
	Status    DeliveryStatus  `json:"status"`
	Error     string          `json:"error,omitempty"`
	SentAt    time.Time       `json:"sent_at"`
}

type Priority string

const (
	PriorityUrgent  Priority = "urgent"
	PriorityHigh    Priority = "high"
	PriorityDefault Priority = "default"
	PriorityLow     Priority = "low"
)

type Action struct {
	Label string
	URL   string
}

// Message is a rendered alert event, shared by every channel.
type Message struct {
	Event    alert.Event
	Title    string
	Body     string
	Priority Priority
	Tags     []string
	Actions  []Action
	Click    string
}

type Channel interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

type Clock interface {
	Now() time.Time
}
