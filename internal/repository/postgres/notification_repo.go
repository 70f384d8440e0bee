package postgres

import (
	"context"
	"fmt"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/NordCoder/Sitewatch/internal/domain/notification"
)

var _ notification.Repo = (*NotificationRepoImpl)(nil)

type NotificationRepoImpl struct{ db *DB }

func NewNotificationRepo(db *DB) *NotificationRepoImpl { return &NotificationRepoImpl{db: db} }

const (
	qDeliveryInsert = `
INSERT INTO notification_deliveries (alert_id, channel, event_type, status, error, sent_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
RETURNING id, sent_at;
`
	qDeliveriesByAlert = `
SELECT id, alert_id::text, channel, event_type, status, COALESCE(error, ''), sent_at
FROM notification_deliveries
WHERE alert_id::text = $1
ORDER BY sent_at DESC
LIMIT $2;
`
)

func (r *NotificationRepoImpl) Create(ctx context.Context, d *notification.Delivery) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if err := r.db.conn(ctx).QueryRow(ctx, qDeliveryInsert,
		d.AlertID,
		d.Channel,
		string(d.EventType),
		string(d.Status),
		nullString(d.Error),
		nullTime(d.SentAt),
	).Scan(&d.ID, &d.SentAt); err != nil {
		return mapErr("insert delivery", err)
	}
	return nil
}

func (r *NotificationRepoImpl) ListByAlert(ctx context.Context, alertID string, limit int) ([]*notification.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.conn(ctx).Query(ctx, qDeliveriesByAlert, alertID, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	out := make([]*notification.Delivery, 0, limit)
	for rows.Next() {
		var (
			d              notification.Delivery
			evType, status string
		)
		if err := rows.Scan(&d.ID, &d.AlertID, &d.Channel, &evType, &status, &d.Error, &d.SentAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.EventType = alert.EventType(evType)
		d.Status = notification.DeliveryStatus(status)
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
