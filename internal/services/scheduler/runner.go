package scheduler

import (
	"context"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Submitter accepts work without blocking; false means the item was not taken.
type Submitter interface {
	Submit(item WorkItem) bool
}

var (
	mDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_dispatched_total", Help: "Work items handed to the executor pool.",
	}, []string{"kind", "manual"})
	mRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_rejected_total", Help: "Work items the executor pool refused (queue full).",
	}, []string{"kind"})
	mLoopDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "scheduler_loop_duration_seconds", Help: "Scheduler tick duration",
		Buckets: prometheus.DefBuckets,
	})
)

type Runner struct {
	Log  *zap.Logger
	UC   *Usecase
	Pool Submitter
	Tick time.Duration
	Now  func() time.Time
}

func New(log *zap.Logger, uc *Usecase, pool Submitter, tick time.Duration) *Runner {
	if tick <= 0 {
		tick = time.Second
	}
	return &Runner{Log: log, UC: uc, Pool: pool, Tick: tick, Now: time.Now}
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	items := r.UC.Tick(ctx, r.Now())
	sent := r.submit(items)
	if len(items) > 0 {
		r.Log.Debug("scheduled batch", zap.Int("due", len(items)), zap.Int("sent", sent))
	}
	mLoopDur.Observe(time.Since(start).Seconds())
}

// submit hands items to the pool; refused items go back to idle without a recorded run.
func (r *Runner) submit(items []WorkItem) int {
	sent := 0
	for _, it := range items {
		if r.Pool.Submit(it) {
			sent++
			mDispatched.WithLabelValues(string(it.Kind), boolLabel(it.Manual)).Inc()
			continue
		}
		r.UC.Release(it.Pair())
		mRejected.WithLabelValues(string(it.Kind)).Inc()
		r.Log.Warn("executor queue full; pair returned to idle",
			zap.Int64("target_id", it.Target.ID), zap.String("kind", string(it.Kind)))
	}
	return sent
}

// Trigger dispatches a manual run and returns the kinds that were accepted by the pool.
func (r *Runner) Trigger(ctx context.Context, targetID int64, kind target.Kind) ([]target.Kind, error) {
	items, err := r.UC.Trigger(ctx, targetID, kind, r.Now())
	if err != nil {
		return nil, err
	}
	accepted := make([]target.Kind, 0, len(items))
	for _, it := range items {
		if r.submit([]WorkItem{it}) == 1 {
			accepted = append(accepted, it.Kind)
		}
	}
	if len(accepted) == 0 {
		return nil, ErrQueueFull
	}
	r.Log.Info("manual check triggered", zap.Int64("target_id", targetID), zap.Any("kinds", accepted))
	return accepted, nil
}

func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Tick)
	defer ticker.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
