package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Sitewatch/internal/obs/retry"
)

// ErrPoison marks a message that can never be handled. Such messages are committed and skipped.
var ErrPoison = errors.New("poison message")

type Handler func(ctx context.Context, key, value []byte) error

type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topic         string
	FromBeginning bool
	Logger        *zap.Logger
}

type Consumer struct {
	reader *kafka.Reader
	topic  string
	log    *zap.Logger
	pause  retry.Backoff
}

var consumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sitewatch",
	Subsystem: "kafka",
	Name:      "consumed_total",
	Help:      "Messages read from Kafka by handling outcome.",
}, []string{"topic", "outcome"})

func NewConsumer(cfg *ConsumerConfig) *Consumer {
	log := cfg.Logger
	if log == nil {
		log = zap.L()
	}
	offset := kafka.LastOffset
	if cfg.FromBeginning {
		offset = kafka.FirstOffset
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:               cfg.Brokers,
			GroupID:               cfg.GroupID,
			Topic:                 cfg.Topic,
			StartOffset:           offset,
			WatchPartitionChanges: true,
			MinBytes:              1,
			MaxBytes:              10 << 20,
			MaxWait:               time.Second,
			SessionTimeout:        10 * time.Second,
			RebalanceTimeout:      15 * time.Second,
			HeartbeatInterval:     3 * time.Second,
		}),
		topic: cfg.Topic,
		log: log.With(
			zap.String("component", "kafka.consumer"),
			zap.String("topic", cfg.Topic),
			zap.String("group", cfg.GroupID),
		),
		pause: retry.ExpoJitter{Base: 200 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.1},
	}
}

// Consume fetches until ctx is done. A message is committed after h succeeds
// or reports ErrPoison; any other handler error leaves it uncommitted.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	c.log.Info("consumer started")
	defer c.log.Info("consumer stopped")

	failures := 0
	for {
		msg, err := c.reader.FetchMessage(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			d := c.pause.Next(failures)
			failures++
			lvl := zap.WarnLevel
			if errors.Is(err, io.EOF) {
				lvl = zap.DebugLevel
			}
			c.log.Log(lvl, "fetch failed", zap.Error(err), zap.Duration("backoff", d))
			if !wait(ctx, d) {
				return ctx.Err()
			}
			continue
		}
		failures = 0

		if !c.dispatch(ctx, msg, h) {
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// dispatch runs h and reports whether msg should be committed.
func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message, h Handler) bool {
	err := c.handle(ctx, msg, h)
	at := []zap.Field{zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset)}
	switch {
	case err == nil:
		consumedTotal.WithLabelValues(c.topic, "ok").Inc()
		return true
	case errors.Is(err, ErrPoison):
		consumedTotal.WithLabelValues(c.topic, "poison").Inc()
		c.log.Warn("poison message skipped", append(at, zap.Error(err))...)
		return true
	default:
		consumedTotal.WithLabelValues(c.topic, "error").Inc()
		c.log.Error("handler failed", append(at, zap.Error(err))...)
		return false
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, h Handler) error {
	ctx = traceContext(ctx, otel.GetTextMapPropagator(), msg.Headers)
	ctx, span := otel.Tracer("kafka.consumer").Start(ctx, "kafka.consume "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingOperationReceive,
			attribute.Int("messaging.kafka.destination.partition", msg.Partition),
			attribute.Int64("messaging.kafka.message.offset", msg.Offset),
		),
	)
	defer span.End()

	err := h(ctx, msg.Key, msg.Value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }
