package kafka

import (
	"context"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
)

type AlertEvents interface {
	PublishAlertEvent(ctx context.Context, ev alert.Event) error
}
