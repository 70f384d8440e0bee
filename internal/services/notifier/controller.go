package notifier

import (
	"context"
	"errors"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	kafkax "github.com/NordCoder/Sitewatch/internal/repository/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var mConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "notifier_events_consumed_total", Help: "Alert events consumed by type.",
}, []string{"event"})

// Controller feeds alert events from Kafka into the dispatcher.
type Controller struct {
	Log        *zap.Logger
	Sub        *kafkax.Consumer
	Dispatcher *Dispatcher
}

func (c *Controller) handler() kafkax.Handler {
	return kafkax.JSONHandler(func(ctx context.Context, _ []byte, ev *alert.Event) error {
		if ev.AlertID == "" || ev.EventType == "" {
			c.Log.Warn("alert event without id or type dropped", zap.Int64("target_id", ev.TargetID))
			return nil
		}
		mConsumed.WithLabelValues(string(ev.EventType)).Inc()
		c.Dispatcher.Dispatch(ctx, *ev)
		return nil
	})
}

func (c *Controller) Run(ctx context.Context) error {
	if err := c.Sub.Consume(ctx, c.handler()); err != nil && !errors.Is(err, context.Canceled) {
		c.Log.Warn("kafka consume", zap.Error(err))
		return err
	}
	return ctx.Err()
}
