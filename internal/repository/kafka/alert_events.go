package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	domain "github.com/NordCoder/Sitewatch/internal/domain/kafka"
)

// EventTypeHeader names the header carrying alert.Event.EventType.
const EventTypeHeader = "sitewatch-event-type"

type AlertEventsKafka struct {
	p *Producer
}

func NewAlertEventsKafka(p *Producer) *AlertEventsKafka { return &AlertEventsKafka{p: p} }

var _ domain.AlertEvents = (*AlertEventsKafka)(nil)

// PublishAlertEvent keys by target so events for one site stay ordered on a partition.
func (e *AlertEventsKafka) PublishAlertEvent(ctx context.Context, ev alert.Event) error {
	return e.p.PublishJSON(ctx, KeyFromInt64(ev.TargetID), ev,
		kafka.Header{Key: EventTypeHeader, Value: []byte(ev.EventType)})
}
