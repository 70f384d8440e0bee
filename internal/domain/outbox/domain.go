package outbox

import (
	"context"
	"time"
)

type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
)

type Kind int

const (
	KindAlertEvent Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindAlertEvent:
		return "alert_event"
	default:
		return "unknown"
	}
}

type Message struct {
	IdempotencyKey string
	Kind           Kind
	Data           []byte
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Tracestate     string
	Traceparent    string
	Baggage        string
}

// Carrier returns the stored trace context in propagator form.
func (m Message) Carrier() map[string]string {
	c := make(map[string]string, 3)
	for k, v := range map[string]string{"traceparent": m.Traceparent, "tracestate": m.Tracestate, "baggage": m.Baggage} {
		if v != "" {
			c[k] = v
		}
	}
	return c
}

type Repository interface {
	Enqueue(ctx context.Context, key string, kind Kind, data []byte) error

	PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]Message, error)

	MarkSuccess(ctx context.Context, keys []string) error
}

type KindHandler func(ctx context.Context, data []byte) error

type GlobalHandler func(kind Kind) (KindHandler, error)
