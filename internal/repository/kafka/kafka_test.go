package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func TestJSONHandler_Decodes(t *testing.T) {
	var got *alert.Event
	h := JSONHandler(func(_ context.Context, key []byte, ev *alert.Event) error {
		assert.Equal(t, "7", string(key))
		got = ev
		return nil
	})

	err := h(context.Background(), []byte("7"),
		[]byte(`{"targetID":7,"kind":"availability","eventType":"opened","alertID":"a1"}`))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.TargetID)
	assert.Equal(t, alert.EventOpened, got.EventType)
}

func TestJSONHandler_PoisonOnGarbage(t *testing.T) {
	h := JSONHandler(func(context.Context, []byte, *alert.Event) error {
		t.Fatal("handler must not be called")
		return nil
	})
	err := h(context.Background(), nil, []byte("{not json"))
	assert.True(t, errors.Is(err, ErrPoison))
}

func TestTraceHeaders_RoundTrip(t *testing.T) {
	prop := propagation.TraceContext{}
	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	hs := traceHeaders(ctx, prop)
	require.Len(t, hs, 1)
	assert.Equal(t, "traceparent", hs[0].Key)

	back := traceContext(context.Background(), prop, hs)
	got := trace.SpanContextFromContext(back)
	assert.Equal(t, tid, got.TraceID())
	assert.Equal(t, sid, got.SpanID())
}

func TestHeaderCarrier_SetReplaces(t *testing.T) {
	hs := []kafka.Header{{Key: "traceparent", Value: []byte("old")}}
	c := headerCarrier{hs: &hs}
	c.Set("traceparent", "new")
	c.Set("tracestate", "x=1")
	assert.Equal(t, "new", c.Get("traceparent"))
	assert.ElementsMatch(t, []string{"traceparent", "tracestate"}, c.Keys())
	assert.Empty(t, c.Get("missing"))
}

func TestTopicSpec_Defaults(t *testing.T) {
	s := TopicSpec{Name: "x"}.withDefaults()
	assert.Equal(t, 1, s.NumPartitions)
	assert.Equal(t, 1, s.ReplicationFactor)
	assert.Equal(t, 5*time.Second, s.MaxWait)
}

func TestConsumer_DispatchCommitsOnSuccessAndPoison(t *testing.T) {
	c := &Consumer{topic: "t", log: zap.NewNop()}
	msg := kafka.Message{Partition: 1, Offset: 42, Value: []byte("{}")}

	assert.True(t, c.dispatch(context.Background(), msg, func(context.Context, []byte, []byte) error { return nil }))
	assert.True(t, c.dispatch(context.Background(), msg, func(context.Context, []byte, []byte) error {
		return ErrPoison
	}))
	assert.False(t, c.dispatch(context.Background(), msg, func(context.Context, []byte, []byte) error {
		return errors.New("db down")
	}))
}

func TestWait_ReturnsFalseOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, wait(ctx, time.Hour))
	assert.True(t, wait(context.Background(), time.Millisecond))
}
