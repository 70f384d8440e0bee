package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultResyncSpec = "@every 30s"

// Resync reloads the monitored targets from the configuration store.
type Resync struct {
	repo    target.Repo
	uc      *Usecase
	log     *zap.Logger
	timeout time.Duration
}

func NewResync(repo target.Repo, uc *Usecase, log *zap.Logger) *Resync {
	return &Resync{repo: repo, uc: uc, log: log, timeout: 10 * time.Second}
}

func (r *Resync) Sync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ts, err := r.repo.ListMonitored(ctx)
	if err != nil {
		return fmt.Errorf("list monitored targets: %w", err)
	}
	r.uc.SetTargets(ts)
	r.log.Debug("targets resynced", zap.Int("targets", len(ts)))
	return nil
}

// Register schedules Sync on c. A failed sync keeps the previous target set.
func (r *Resync) Register(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	if spec == "" {
		spec = DefaultResyncSpec
	}
	return c.AddFunc(spec, func() {
		if err := r.Sync(ctx); err != nil {
			r.log.Warn("target resync failed", zap.Error(err))
		}
	})
}
