package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultRetentionSpec   = "@daily"
	DefaultResultRetention = 90 * 24 * time.Hour
	DefaultAlertRetention  = 30 * 24 * time.Hour
	DefaultOutboxRetention = 7 * 24 * time.Hour
)

type ResultPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type AlertPurger interface {
	PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type OutboxPurger interface {
	PurgeDeliveredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention deletes old check results, long-resolved alerts and, when configured, relayed outbox rows.
type Retention struct {
	results     ResultPurger
	alerts      AlertPurger
	outbox      OutboxPurger
	keepResults time.Duration
	keepAlerts  time.Duration
	keepOutbox  time.Duration
	now         func() time.Time
	log         *zap.Logger
	timeout     time.Duration
}

type RetentionOption func(*Retention)

// WithOutbox also purges relayed outbox rows older than keep.
func WithOutbox(p OutboxPurger, keep time.Duration) RetentionOption {
	return func(r *Retention) {
		if keep <= 0 {
			keep = DefaultOutboxRetention
		}
		r.outbox, r.keepOutbox = p, keep
	}
}

// NewRetention uses the default windows for non-positive durations.
func NewRetention(results ResultPurger, alerts AlertPurger, keepResults, keepAlerts time.Duration, log *zap.Logger,
	opts ...RetentionOption) *Retention {
	if keepResults <= 0 {
		keepResults = DefaultResultRetention
	}
	if keepAlerts <= 0 {
		keepAlerts = DefaultAlertRetention
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Retention{
		results:     results,
		alerts:      alerts,
		keepResults: keepResults,
		keepAlerts:  keepAlerts,
		now:         time.Now,
		log:         log,
		timeout:     5 * time.Minute,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Retention) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	now := r.now().UTC()
	results, err := r.results.PurgeBefore(ctx, now.Add(-r.keepResults))
	if err != nil {
		return fmt.Errorf("purge results: %w", err)
	}
	alerts, err := r.alerts.PurgeResolvedBefore(ctx, now.Add(-r.keepAlerts))
	if err != nil {
		return fmt.Errorf("purge alerts: %w", err)
	}
	var relayed int64
	if r.outbox != nil {
		if relayed, err = r.outbox.PurgeDeliveredBefore(ctx, now.Add(-r.keepOutbox)); err != nil {
			return fmt.Errorf("purge outbox: %w", err)
		}
	}
	r.log.Info("retention done",
		zap.Int64("results_deleted", results),
		zap.Int64("alerts_deleted", alerts),
		zap.Int64("outbox_deleted", relayed),
	)
	return nil
}

func (r *Retention) Register(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	if spec == "" {
		spec = DefaultRetentionSpec
	}
	return c.AddFunc(spec, func() {
		if err := r.Run(ctx); err != nil {
			r.log.Error("retention failed", zap.Error(err))
		}
	})
}
