package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sitewatch",
	Subsystem: "kafka",
	Name:      "published_total",
	Help:      "Messages written to Kafka by result.",
}, []string{"topic", "result"})

// Producer writes to a single topic. Messages with equal keys land on the same partition.
type Producer struct {
	w   *kafka.Writer
	log *zap.Logger
}

func NewProducer(brokers []string, topic string, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.L()
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           10 * time.Second,
			AllowAutoTopicCreation: true,
		},
		log: log.With(zap.String("component", "kafka.producer"), zap.String("topic", topic)),
	}
}

// PublishJSON writes v as JSON under key. The current trace context is added to hs.
func (p *Producer) PublishJSON(ctx context.Context, key []byte, v any, hs ...kafka.Header) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}

	topic := p.w.Topic
	ctx, span := otel.Tracer("kafka.producer").Start(ctx, "kafka.produce "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(topic),
			semconv.MessagingOperationPublish,
		),
	)
	defer span.End()

	msg := kafka.Message{
		Key:     key,
		Value:   value,
		Headers: append(hs, traceHeaders(ctx, otel.GetTextMapPropagator())...),
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		publishedTotal.WithLabelValues(topic, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.log.Warn("write failed", zap.ByteString("key", key), zap.Error(err))
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	publishedTotal.WithLabelValues(topic, "ok").Inc()
	p.log.Debug("published", zap.ByteString("key", key), zap.Int("bytes", len(value)))
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }

func KeyFromInt64(id int64) []byte { return []byte(strconv.FormatInt(id, 10)) }
