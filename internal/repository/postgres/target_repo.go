package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/target"
)

var _ target.Repo = (*TargetRepoImpl)(nil)

type TargetRepoImpl struct {
	db *DB
}

func NewTargetRepo(db *DB) *TargetRepoImpl { return &TargetRepoImpl{db: db} }

const (
	qTargetsMonitored = `
SELECT t.id, t.name, t.url, t.paused, t.created_at, t.updated_at,
       c.kind, c.enabled, c.interval_sec, c.threshold, c.timeout_sec, c.options
FROM targets t
LEFT JOIN target_checks c ON c.target_id = t.id
WHERE t.paused = FALSE
ORDER BY t.id;
`

	qTargetByID = `
SELECT t.id, t.name, t.url, t.paused, t.created_at, t.updated_at,
       c.kind, c.enabled, c.interval_sec, c.threshold, c.timeout_sec, c.options
FROM targets t
LEFT JOIN target_checks c ON c.target_id = t.id
WHERE t.id = $1;
`
)

// kindOptions is the jsonb shape of the per-kind extras.
type kindOptions struct {
	BudgetMS        int    `json:"budget_ms,omitempty"`
	WarningDays     int    `json:"warning_days,omitempty"`
	CrawlLimit      int    `json:"crawl_limit,omitempty"`
	LinkConcurrency int    `json:"link_concurrency,omitempty"`
	AcceptStatus    []int  `json:"accept_status,omitempty"`
	LatestVersion   string `json:"latest_version,omitempty"`
	MinContentScore int    `json:"min_content_score,omitempty"`
}

type targetRow struct {
	id                   int64
	name, url            string
	paused               bool
	createdAt, updatedAt time.Time
	kind                 *string
	enabled              *bool
	intervalSec          *int
	threshold            *int
	timeoutSec           *int
	options              []byte
}

func (r *TargetRepoImpl) ListMonitored(ctx context.Context) ([]*target.Target, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.conn(ctx).Query(ctx, qTargetsMonitored)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	var (
		out   []*target.Target
		byID  = map[int64]*target.Target{}
		order []int64
	)
	for rows.Next() {
		var tr targetRow
		if err := rows.Scan(&tr.id, &tr.name, &tr.url, &tr.paused, &tr.createdAt, &tr.updatedAt,
			&tr.kind, &tr.enabled, &tr.intervalSec, &tr.threshold, &tr.timeoutSec, &tr.options); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		t, ok := byID[tr.id]
		if !ok {
			t = newTarget(tr)
			byID[tr.id] = t
			order = append(order, tr.id)
		}
		if err := addKind(t, tr); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

func (r *TargetRepoImpl) GetByID(ctx context.Context, id int64) (*target.Target, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.conn(ctx).Query(ctx, qTargetByID, id)
	if err != nil {
		return nil, fmt.Errorf("query target: %w", err)
	}
	defer rows.Close()

	var t *target.Target
	for rows.Next() {
		var tr targetRow
		if err := rows.Scan(&tr.id, &tr.name, &tr.url, &tr.paused, &tr.createdAt, &tr.updatedAt,
			&tr.kind, &tr.enabled, &tr.intervalSec, &tr.threshold, &tr.timeoutSec, &tr.options); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		if t == nil {
			t = newTarget(tr)
		}
		if err := addKind(t, tr); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if t == nil {
		return nil, ErrNotFound
	}
	return t, nil
}

func newTarget(tr targetRow) *target.Target {
	return &target.Target{
		ID:        tr.id,
		Name:      tr.name,
		URL:       tr.url,
		Paused:    tr.paused,
		Kinds:     map[target.Kind]target.KindConfig{},
		CreatedAt: tr.createdAt,
		UpdatedAt: tr.updatedAt,
	}
}

func addKind(t *target.Target, tr targetRow) error {
	if tr.kind == nil {
		return nil
	}
	k, err := target.ParseKind(*tr.kind)
	if err != nil {
		// unknown kinds written by a newer schema are skipped
		return nil
	}
	var opts kindOptions
	if len(tr.options) > 0 {
		if err := json.Unmarshal(tr.options, &opts); err != nil {
			return fmt.Errorf("target %d %s options: %w", tr.id, k, err)
		}
	}
	cfg := target.KindConfig{
		Enabled:         tr.enabled != nil && *tr.enabled,
		BudgetMS:        opts.BudgetMS,
		WarningDays:     opts.WarningDays,
		CrawlLimit:      opts.CrawlLimit,
		LinkConcurrency: opts.LinkConcurrency,
		AcceptStatus:    opts.AcceptStatus,
		LatestVersion:   opts.LatestVersion,
		MinContentScore: opts.MinContentScore,
	}
	if tr.intervalSec != nil {
		cfg.Interval = time.Duration(*tr.intervalSec) * time.Second
	}
	if tr.threshold != nil {
		cfg.Threshold = *tr.threshold
	}
	if tr.timeoutSec != nil {
		cfg.Timeout = time.Duration(*tr.timeoutSec) * time.Second
	}
	t.Kinds[k] = cfg
	return nil
}
