// Package monitor connects executor output to storage and alert evaluation.
package monitor

import (
	"context"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"github.com/NordCoder/Sitewatch/internal/obs"
	"github.com/NordCoder/Sitewatch/internal/obs/retry"
	"github.com/NordCoder/Sitewatch/internal/services/evaluator"
	"github.com/NordCoder/Sitewatch/internal/services/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Cache keeps a short per-pair history for the API; it is best effort.
type Cache interface {
	Push(ctx context.Context, r *result.CheckResult) error
}

type Processor interface {
	Process(ctx context.Context, t *target.Target, res *result.CheckResult) (evaluator.Decision, error)
}

var (
	mUnrecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_results_unrecorded_total", Help: "Results dropped after persistence retries were exhausted.",
	}, []string{"kind"})
	mCacheErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_cache_errors_total", Help: "Failed result cache writes.",
	})
	mEvalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_evaluation_errors_total", Help: "Results whose alert evaluation failed.",
	}, []string{"kind"})
)

type Handler struct {
	results result.Repo
	cache   Cache
	alerts  Processor
	policy  retry.Policy
	log     *zap.Logger
}

// NewHandler wires the result sink. cache may be nil.
func NewHandler(results result.Repo, cache Cache, alerts Processor, policy retry.Policy, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		results: results,
		cache:   cache,
		alerts:  alerts,
		policy:  policy,
		log:     log.With(zap.String("component", "monitor")),
	}
}

func (h *Handler) HandleResult(ctx context.Context, item scheduler.WorkItem, res *result.CheckResult) {
	log := obs.WithTrace(ctx, h.log).With(
		zap.Int64("target_id", res.TargetID),
		zap.String("kind", string(res.Kind)),
		zap.String("outcome", string(res.Outcome)),
	)

	var inserted bool
	err := retry.Do(ctx, func() error {
		var err error
		inserted, err = h.results.Append(ctx, res)
		return err
	}, h.policy)
	if err != nil {
		mUnrecorded.WithLabelValues(string(res.Kind)).Inc()
		log.Warn("result not recorded, evaluation skipped", zap.Error(err))
		return
	}

	if inserted && h.cache != nil {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := h.cache.Push(cctx, res); err != nil {
			mCacheErrors.Inc()
			log.Debug("result cache push failed", zap.Error(err))
		}
		cancel()
	}

	// Process commits state, alert and outbox row in one transaction, so a
	// failed attempt leaves nothing behind and can be repeated.
	var d evaluator.Decision
	err = retry.Do(ctx, func() error {
		var err error
		d, err = h.alerts.Process(ctx, item.Target, res)
		return err
	}, h.policy)
	if err != nil {
		mEvalErrors.WithLabelValues(string(res.Kind)).Inc()
		log.Error("alert evaluation failed", zap.Error(err))
		return
	}
	if res.Outcome.Failed() || d.Signal != evaluator.SignalNone {
		log.Info("check evaluated",
			zap.String("reason", res.Reason),
			zap.String("signal", string(d.Signal)),
			zap.Int("consecutive_failures", d.State.ConsecutiveFailures))
	}
}
