package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ alert.Repo = (*AlertRepoImpl)(nil)

type AlertRepoImpl struct{ db *DB }

func NewAlertRepo(db *DB) *AlertRepoImpl { return &AlertRepoImpl{db: db} }

const (
	// FOR UPDATE serializes concurrent evaluations of one pair across monitor replicas.
	qStateGet = `
SELECT target_id, kind, consecutive_failures, COALESCE(severity, ''), COALESCE(active_alert_id::text, ''),
       last_checked_at, updated_at
FROM alert_states
WHERE target_id = $1 AND kind = $2
FOR UPDATE;
`
	qStateUpsert = `
INSERT INTO alert_states (target_id, kind, consecutive_failures, severity, active_alert_id, last_checked_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (target_id, kind) DO UPDATE
SET consecutive_failures = EXCLUDED.consecutive_failures,
    severity             = EXCLUDED.severity,
    active_alert_id      = EXCLUDED.active_alert_id,
    last_checked_at      = EXCLUDED.last_checked_at,
    updated_at           = NOW()
RETURNING updated_at;
`
	qAlertInsert = `
INSERT INTO alerts (id, target_id, kind, severity, status, message, details, occurrences, created_at, last_seen_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`
	qAlertUpdate = `
UPDATE alerts
SET severity        = $2,
    status          = $3,
    message         = $4,
    details         = $5,
    occurrences     = $6,
    last_seen_at    = $7,
    acknowledged_at = $8,
    resolved_at     = $9,
    resolution_note = $10
WHERE id = $1;
`
	alertColumns = `
id::text, target_id, kind, severity, status, message, details, occurrences, created_at, last_seen_at,
acknowledged_at, resolved_at, COALESCE(resolution_note, '')`

	qAlertsPurge = `DELETE FROM alerts WHERE status = 'resolved' AND resolved_at < $1;`
)

func (r *AlertRepoImpl) GetState(ctx context.Context, p target.Pair) (*alert.State, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var (
		s              alert.State
		kind, severity string
		lastChecked    *time.Time
	)
	err := r.db.conn(ctx).QueryRow(ctx, qStateGet, p.TargetID, string(p.Kind)).Scan(
		&s.TargetID, &kind, &s.ConsecutiveFailures, &severity, &s.ActiveAlertID, &lastChecked, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return alert.Fresh(p), nil
	}
	if err != nil {
		return nil, mapErr("get alert state", err)
	}
	s.Kind = target.Kind(kind)
	s.Severity = alert.Severity(severity)
	if lastChecked != nil {
		s.LastCheckedAt = *lastChecked
	}
	return &s, nil
}

func (r *AlertRepoImpl) UpsertState(ctx context.Context, s *alert.State) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	return mapErr("upsert alert state", r.db.conn(ctx).QueryRow(ctx, qStateUpsert,
		s.TargetID, string(s.Kind), s.ConsecutiveFailures, nullString(string(s.Severity)),
		nullString(s.ActiveAlertID), nullTime(s.LastCheckedAt),
	).Scan(&s.UpdatedAt))
}

func (r *AlertRepoImpl) Create(ctx context.Context, a *alert.Alert) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	details, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	_, err = r.db.conn(ctx).Exec(ctx, qAlertInsert,
		a.ID, a.TargetID, string(a.Kind), string(a.Severity), string(a.Status), a.Message,
		details, a.Occurrences, a.CreatedAt, a.LastSeenAt,
	)
	return mapErr("insert alert", err)
}

func (r *AlertRepoImpl) Update(ctx context.Context, a *alert.Alert) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	details, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	cmd, err := r.db.conn(ctx).Exec(ctx, qAlertUpdate,
		a.ID, string(a.Severity), string(a.Status), a.Message, details, a.Occurrences, a.LastSeenAt,
		a.AcknowledgedAt, a.ResolvedAt, nullString(a.ResolutionNote),
	)
	if err != nil {
		return mapErr("update alert", err)
	}
	if cmd.RowsAffected() == 0 {
		return alert.ErrNotFound
	}
	return nil
}

// alertID canonicalizes id; anything that is not a UUID cannot name an alert.
func alertID(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", alert.ErrNotFound
	}
	return u.String(), nil
}

func (r *AlertRepoImpl) GetByID(ctx context.Context, id string) (*alert.Alert, error) {
	key, err := alertID(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	row := r.db.conn(ctx).QueryRow(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = $1;", key)
	a, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, alert.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (r *AlertRepoImpl) List(ctx context.Context, f alert.Filter) ([]*alert.Alert, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if f.TargetID > 0 {
		add("target_id = $%d", f.TargetID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + alertColumns + " FROM alerts")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC LIMIT " + strconv.Itoa(limit))

	rows, err := r.db.conn(ctx).Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []*alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// PurgeResolvedBefore deletes alerts resolved before cutoff.
func (r *AlertRepoImpl) PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.conn(ctx).Exec(ctx, qAlertsPurge, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge alerts: %w", err)
	}
	return cmd.RowsAffected(), nil
}

func scanAlert(row pgx.Row) (*alert.Alert, error) {
	var (
		a                      alert.Alert
		kind, severity, status string
		details                []byte
	)
	if err := row.Scan(&a.ID, &a.TargetID, &kind, &severity, &status, &a.Message, &details, &a.Occurrences,
		&a.CreatedAt, &a.LastSeenAt, &a.AcknowledgedAt, &a.ResolvedAt, &a.ResolutionNote); err != nil {
		return nil, err
	}
	a.Kind = target.Kind(kind)
	a.Severity = alert.Severity(severity)
	a.Status = alert.Status(status)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &a.Details); err != nil {
			return nil, fmt.Errorf("alert %s details: %w", a.ID, err)
		}
	}
	return &a, nil
}
