// Package executor runs dispatched work items on a fixed set of workers.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"github.com/NordCoder/Sitewatch/internal/obs"
	"github.com/NordCoder/Sitewatch/internal/services/checker"
	"github.com/NordCoder/Sitewatch/internal/services/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultWorkers   = 16
	MaxWorkers       = 256
	DefaultQueueSize = 1024
	DefaultGrace     = 5 * time.Second

	ReasonDeadline = "deadline exceeded"
)

type Checkers interface {
	For(k target.Kind) (checker.Checker, error)
}

// Sink receives every item's terminal result.
type Sink interface {
	HandleResult(ctx context.Context, item scheduler.WorkItem, res *result.CheckResult)
}

type Completer interface {
	Complete(p target.Pair, at time.Time)
}

var (
	mInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "executor_in_flight", Help: "Checks currently running.",
	})
	mResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_results_total", Help: "Check results by kind and outcome.",
	}, []string{"kind", "outcome"})
	mDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "executor_check_duration_seconds", Help: "Wall time of a check including grace.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"kind"})
)

type Pool struct {
	workers int
	grace   time.Duration
	now     func() time.Time
	log     *zap.Logger

	checkers  Checkers
	sink      Sink
	completer Completer

	mu     sync.RWMutex
	closed bool
	queue  chan scheduler.WorkItem
	wg     sync.WaitGroup
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) { p.workers = min(max(n, 1), MaxWorkers) }
}

func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.queue = make(chan scheduler.WorkItem, n)
		}
	}
}

func WithGrace(d time.Duration) Option {
	return func(p *Pool) {
		if d >= 0 {
			p.grace = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.log = l }
}

func NewPool(checkers Checkers, sink Sink, completer Completer, opts ...Option) *Pool {
	p := &Pool{
		workers:   DefaultWorkers,
		grace:     DefaultGrace,
		now:       time.Now,
		log:       zap.NewNop(),
		checkers:  checkers,
		sink:      sink,
		completer: completer,
		queue:     make(chan scheduler.WorkItem, DefaultQueueSize),
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With(zap.String("component", "executor"))
	return p
}

// Start launches the workers. They drain the queue and exit after Stop.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for item := range p.queue {
				p.run(ctx, item)
			}
		}()
	}
	p.log.Info("executor started", zap.Int("workers", p.workers), zap.Int("queue", cap(p.queue)))
}

// Submit enqueues without blocking. It reports false when the queue is full or the pool stopped.
func (p *Pool) Submit(item scheduler.WorkItem) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- item:
		return true
	default:
		return false
	}
}

// Stop refuses new work and waits for queued items to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

type outcome struct {
	res *result.CheckResult
	err error
}

// run executes one item under its hard deadline and always reports a result and completion.
func (p *Pool) run(ctx context.Context, item scheduler.WorkItem) {
	pair := item.Pair()
	started := result.Stamp(p.now())

	ctx, span := otel.Tracer("executor").Start(ctx, "executor.check", trace.WithAttributes(
		attribute.Int64("target.id", pair.TargetID),
		attribute.String("check.kind", string(pair.Kind)),
		attribute.Bool("check.manual", item.Manual),
	))
	defer span.End()

	mInFlight.Inc()
	t0 := time.Now()
	res := p.execute(ctx, item, started)
	mDuration.WithLabelValues(string(pair.Kind)).Observe(time.Since(t0).Seconds())
	mInFlight.Dec()

	res.TargetID = pair.TargetID
	res.Kind = pair.Kind
	res.CheckedAt = started
	res.Manual = item.Manual
	if res.Payload == nil {
		res.Payload = map[string]any{}
	}
	mResults.WithLabelValues(string(pair.Kind), string(res.Outcome)).Inc()
	span.SetAttributes(attribute.String("check.outcome", string(res.Outcome)))
	if res.Outcome == result.OutcomeError {
		obs.Fail(span, errors.New(res.Reason))
	}

	p.sink.HandleResult(ctx, item, res)
	p.completer.Complete(pair, started)
}

func (p *Pool) execute(ctx context.Context, item scheduler.WorkItem, started time.Time) *result.CheckResult {
	pair := item.Pair()
	c, err := p.checkers.For(item.Kind)
	if err != nil {
		return result.Errored(pair, started, err.Error())
	}

	hardCtx, cancel := context.WithTimeout(ctx, item.Config.Timeout+p.grace)
	defer cancel()

	// buffered so a checker that outlives the deadline can still finish and exit
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("checker panic", zap.Int64("target_id", pair.TargetID),
					zap.String("kind", string(pair.Kind)), zap.Any("panic", r))
				done <- outcome{err: fmt.Errorf("checker panic: %v", r)}
			}
		}()
		res, err := c.Check(hardCtx, item.Target, item.Config)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		switch {
		case o.err != nil:
			return result.Errored(pair, started, o.err.Error())
		case o.res == nil:
			return result.Errored(pair, started, "checker returned no result")
		default:
			return o.res
		}
	case <-hardCtx.Done():
		obs.WithTrace(ctx, p.log).Warn("check deadline exceeded",
			zap.Int64("target_id", pair.TargetID), zap.String("kind", string(pair.Kind)),
			zap.Duration("deadline", item.Config.Timeout+p.grace))
		return result.Errored(pair, started, ReasonDeadline)
	}
}
