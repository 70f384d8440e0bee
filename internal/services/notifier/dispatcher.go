// Package notifier renders alert events and fans them out to notification channels.
package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/NordCoder/Sitewatch/internal/domain/notification"
	"github.com/NordCoder/Sitewatch/internal/obs"
	"github.com/NordCoder/Sitewatch/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	mDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_deliveries_total", Help: "Channel deliveries by result.",
	}, []string{"channel", "status"})
	mSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_suppressed_total", Help: "Repeat events skipped for acknowledged alerts.",
	})
)

// Acknowledgements are remembered for at most ackTTL and maxAcked alerts.
// Past either bound a repeat event falls back to its own AlertStatus.
const (
	ackTTL   = 7 * 24 * time.Hour
	maxAcked = 10_000
)

type Dispatcher struct {
	channels  []notification.Channel
	store     notification.Repo
	dashboard string
	policy    retry.Policy
	log       *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	acked map[string]time.Time
}

// NewDispatcher builds a dispatcher; store may be nil.
func NewDispatcher(channels []notification.Channel, store notification.Repo, dashboard string,
	policy retry.Policy, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		channels:  channels,
		store:     store,
		dashboard: dashboard,
		policy:    policy,
		log:       log.With(zap.String("component", "dispatcher")),
		now:       func() time.Time { return time.Now().UTC() },
		acked:     make(map[string]time.Time),
	}
}

// suppressed tracks acknowledgements and reports whether ev should be skipped.
func (d *Dispatcher) suppressed(ev alert.Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	switch ev.EventType {
	case alert.EventAcknowledged:
		d.remember(ev.AlertID, now)
	case alert.EventResolved:
		delete(d.acked, ev.AlertID)
	case alert.EventRepeated:
		if ev.AlertStatus == alert.StatusAcknowledged {
			return true
		}
		at, ok := d.acked[ev.AlertID]
		if ok && now.Sub(at) > ackTTL {
			delete(d.acked, ev.AlertID)
			return false
		}
		return ok
	}
	return false
}

// remember records an acknowledgement, dropping expired entries and then the
// oldest ones while the set is over maxAcked. Caller holds d.mu.
func (d *Dispatcher) remember(id string, now time.Time) {
	d.acked[id] = now
	if len(d.acked) <= maxAcked {
		return
	}
	for k, at := range d.acked {
		if now.Sub(at) > ackTTL {
			delete(d.acked, k)
		}
	}
	for len(d.acked) > maxAcked {
		oldest, first := "", time.Time{}
		for k, at := range d.acked {
			if oldest == "" || at.Before(first) {
				oldest, first = k, at
			}
		}
		delete(d.acked, oldest)
	}
}

// Dispatch delivers ev to every channel. Channel failures are retried, logged and recorded;
// they never reach the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, ev alert.Event) {
	ctx, span := otel.Tracer("notifier").Start(ctx, "notifier.dispatch", trace.WithAttributes(
		attribute.String("alert.id", ev.AlertID),
		attribute.String("alert.event", string(ev.EventType)),
	))
	defer span.End()

	log := obs.WithTrace(ctx, d.log).With(
		zap.String("alert_id", ev.AlertID),
		zap.String("event", string(ev.EventType)),
		zap.Int64("target_id", ev.TargetID),
	)
	if d.suppressed(ev) {
		mSuppressed.Inc()
		log.Debug("repeat of acknowledged alert suppressed")
		return
	}

	msg := Render(ev, d.dashboard)
	var g errgroup.Group
	for _, ch := range d.channels {
		ch := ch
		g.Go(func() error {
			err := retry.Do(ctx, func() error { return ch.Send(ctx, msg) }, d.policy)
			d.record(ctx, log, ch.Name(), ev, err)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) record(ctx context.Context, log *zap.Logger, channel string, ev alert.Event, err error) {
	del := &notification.Delivery{
		AlertID:   ev.AlertID,
		Channel:   channel,
		EventType: ev.EventType,
		Status:    notification.DeliverySent,
		SentAt:    d.now(),
	}
	if err != nil {
		del.Status = notification.DeliveryFailed
		del.Error = err.Error()
		log.Error("notification delivery failed", zap.String("channel", channel), zap.Error(err))
	} else {
		log.Info("notification delivered", zap.String("channel", channel))
	}
	mDelivered.WithLabelValues(channel, string(del.Status)).Inc()

	if d.store == nil {
		return
	}
	if serr := d.store.Create(context.WithoutCancel(ctx), del); serr != nil {
		log.Warn("delivery record not stored", zap.String("channel", channel), zap.Error(serr))
	}
}
