package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/NordCoder/Sitewatch/internal/domain/outbox"
)

// AlertEvents stores alert events in the outbox. Enqueue joins the transaction carried by ctx,
// so an event is relayed only if the alert change that produced it commits.
type AlertEvents struct {
	repo outbox.Repository
}

var _ alert.Events = (*AlertEvents)(nil)

func NewAlertEvents(repo outbox.Repository) *AlertEvents { return &AlertEvents{repo: repo} }

func (e *AlertEvents) Emit(ctx context.Context, ev alert.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}
	if err := e.repo.Enqueue(ctx, ev.Key(), outbox.KindAlertEvent, data); err != nil {
		return fmt.Errorf("enqueue alert event: %w", err)
	}
	return nil
}
