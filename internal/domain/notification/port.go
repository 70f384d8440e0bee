package notification

import "context"

type Repo interface {
	Create(ctx context.Context, d *Delivery) error
	ListByAlert(ctx context.Context, alertID string, limit int) ([]*Delivery, error)
}
