package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
)

var _ result.Repo = (*ResultRepoImpl)(nil)

type ResultRepoImpl struct{ db *DB }

func NewResultRepo(db *DB) *ResultRepoImpl { return &ResultRepoImpl{db: db} }

const (
	qResultInsert = `
INSERT INTO check_results (target_id, kind, checked_at, outcome, reason, latency_ms, payload, manual)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (target_id, kind, checked_at) DO NOTHING
RETURNING id;
`
	qResultsRecent = `
SELECT id, target_id, kind, checked_at, outcome, COALESCE(reason, ''), latency_ms, payload, manual
FROM check_results
WHERE target_id = $1 AND kind = $2
ORDER BY checked_at DESC
LIMIT $3;
`
	qResultsPurge = `DELETE FROM check_results WHERE checked_at < $1;`
)

func (r *ResultRepoImpl) Append(ctx context.Context, res *result.CheckResult) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(res.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}

	err = r.db.conn(ctx).QueryRow(ctx, qResultInsert,
		res.TargetID, string(res.Kind), res.CheckedAt, string(res.Outcome),
		nullString(res.Reason), res.LatencyMS, payload, res.Manual,
	).Scan(&res.ID)
	if err != nil {
		mapped := mapErr("insert result", err)
		if errors.Is(mapped, ErrNotFound) {
			// ON CONFLICT DO NOTHING returns no row for a redelivered result
			return false, nil
		}
		return false, mapped
	}
	return true, nil
}

func (r *ResultRepoImpl) Recent(ctx context.Context, p target.Pair, n int) ([]*result.CheckResult, error) {
	if n <= 0 {
		n = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.conn(ctx).Query(ctx, qResultsRecent, p.TargetID, string(p.Kind), n)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := make([]*result.CheckResult, 0, n)
	for rows.Next() {
		var (
			rr      result.CheckResult
			kind    string
			outcome string
			payload []byte
		)
		if err := rows.Scan(&rr.ID, &rr.TargetID, &kind, &rr.CheckedAt, &outcome, &rr.Reason,
			&rr.LatencyMS, &payload, &rr.Manual); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		rr.Kind = target.Kind(kind)
		rr.Outcome = result.Outcome(outcome)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &rr.Payload); err != nil {
				return nil, fmt.Errorf("result %d payload: %w", rr.ID, err)
			}
		}
		out = append(out, &rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// PurgeBefore deletes results older than cutoff and returns the number removed.
func (r *ResultRepoImpl) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.conn(ctx).Exec(ctx, qResultsPurge, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge results: %w", err)
	}
	return cmd.RowsAffected(), nil
}
