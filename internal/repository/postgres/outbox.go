package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/NordCoder/Sitewatch/internal/domain/outbox"
)

var _ outbox.Repository = (*OutboxRepo)(nil)

type OutboxRepo struct{ db *DB }

func NewOutboxRepo(db *DB) *OutboxRepo { return &OutboxRepo{db: db} }

const (
	qEnqueue = `
INSERT INTO outbox (idempotency_key, data, status, kind, traceparent, tracestate, baggage)
VALUES ($1, $2, 'CREATED', $3, $4, $5, $6)
ON CONFLICT (idempotency_key) DO NOTHING;`

	qPick = `
WITH cand AS (
   SELECT idempotency_key
   FROM outbox
   WHERE status = 'CREATED'
      OR (status = 'IN_PROGRESS' AND updated_at < now() - make_interval(secs => $2))
   ORDER BY created_at
   LIMIT $1
   FOR UPDATE SKIP LOCKED
), upd AS (
   UPDATE outbox o
   SET status = 'IN_PROGRESS', updated_at = now()
   FROM cand
   WHERE o.idempotency_key = cand.idempotency_key
   RETURNING o.idempotency_key, o.kind, o.data, o.status, o.created_at, o.updated_at,
             o.traceparent, o.tracestate, o.baggage
)
SELECT idempotency_key, kind, data, status, created_at, updated_at,
       COALESCE(traceparent, ''), COALESCE(tracestate, ''), COALESCE(baggage, '')
FROM upd
ORDER BY created_at;`

	qMarkSuccess = `
UPDATE outbox
SET status = 'SUCCESS', updated_at = now()
WHERE idempotency_key = ANY($1);`

	qPurgeDelivered = `
DELETE FROM outbox
WHERE status = 'SUCCESS' AND updated_at < $1;`
)

// Enqueue stores the message with the caller's trace context so the relay can continue the trace.
func (r *OutboxRepo) Enqueue(ctx context.Context, key string, kind outbox.Kind, data []byte) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	_, err := r.db.conn(ctx).Exec(ctx, qEnqueue, key, data, kind,
		nullString(carrier.Get("traceparent")),
		nullString(carrier.Get("tracestate")),
		nullString(carrier.Get("baggage")),
	)
	return mapErr("outbox enqueue", err)
}

// PickBatch claims up to batch pending rows, plus IN_PROGRESS rows whose claim
// is older than stale, and returns them oldest first.
func (r *OutboxRepo) PickBatch(ctx context.Context, batch int, stale time.Duration) ([]outbox.Message, error) {
	if batch <= 0 {
		return nil, errors.New("outbox pick: batch must be positive")
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qPick, batch, stale.Seconds())
	if err != nil {
		return nil, mapErr("outbox pick", err)
	}
	msgs, err := pgx.CollectRows(rows, scanOutbox)
	if err != nil {
		return nil, fmt.Errorf("outbox scan: %w", err)
	}
	return msgs, nil
}

func scanOutbox(row pgx.CollectableRow) (outbox.Message, error) {
	var (
		m      outbox.Message
		status string
	)
	err := row.Scan(&m.IdempotencyKey, &m.Kind, &m.Data, &status, &m.CreatedAt, &m.UpdatedAt,
		&m.Traceparent, &m.Tracestate, &m.Baggage)
	m.Status = outbox.Status(status)
	return m, err
}

func (r *OutboxRepo) MarkSuccess(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	_, err := r.db.Pool.Exec(ctx, qMarkSuccess, keys)
	return mapErr("outbox mark success", err)
}

// PurgeDeliveredBefore deletes relayed rows last touched before cutoff. Pending rows are kept.
func (r *OutboxRepo) PurgeDeliveredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, qPurgeDelivered, cutoff)
	if err != nil {
		return 0, mapErr("outbox purge", err)
	}
	return tag.RowsAffected(), nil
}
