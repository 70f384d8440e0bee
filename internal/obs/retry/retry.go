package retry

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Policy describes how an operation is retried. Zero values fall back to a
// single attempt and retry on any error.
type Policy struct {
	Name      string
	Attempts  int
	Backoff   Backoff
	Retryable func(error) bool
	OnAttempt func(attempt int, err error)
	OnExhaust func(lastErr error)
}

func (p Policy) label() string {
	if p.Name == "" {
		return "default"
	}
	return p.Name
}

func (p Policy) attempts() int { return max(p.Attempts, 1) }

func (p Policy) backoff() Backoff {
	if p.Backoff == nil {
		return defaultBackoff
	}
	return p.Backoff
}

func (p Policy) retryable(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying regardless of the policy.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitewatch",
		Subsystem: "retry",
		Name:      "attempts_total",
		Help:      "Calls made under a retry policy, first call included.",
	}, []string{"policy"})
	exhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitewatch",
		Subsystem: "retry",
		Name:      "exhausted_total",
		Help:      "Operations that gave up with an error.",
	}, []string{"policy"})
	durationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sitewatch",
		Subsystem: "retry",
		Name:      "duration_seconds",
		Help:      "Wall time spent in Do, waits included.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"policy"})
)

// Do calls fn until it succeeds, the error is not retryable, attempts run out
// or ctx ends. The last error from fn is returned.
func Do(ctx context.Context, fn func() error, p Policy) error {
	name := p.label()
	defer func(t time.Time) { durationSeconds.WithLabelValues(name).Observe(time.Since(t).Seconds()) }(time.Now())

	span := trace.SpanFromContext(ctx)
	last := p.attempts() - 1
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		attemptsTotal.WithLabelValues(name).Inc()
		err := fn()
		if err == nil {
			return nil
		}
		if p.OnAttempt != nil {
			p.OnAttempt(i, err)
		}
		span.AddEvent("retry.attempt", trace.WithAttributes(
			attribute.String("retry.policy", name),
			attribute.Int("retry.attempt", i+1),
			attribute.String("error", err.Error()),
		))
		if i >= last || !p.retryable(err) {
			exhaustedTotal.WithLabelValues(name).Inc()
			if p.OnExhaust != nil {
				p.OnExhaust(err)
			}
			return err
		}
		if err := sleep(ctx, p.backoff().Next(i)); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
