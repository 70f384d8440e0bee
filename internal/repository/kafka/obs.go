package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
)

// headerCarrier lets a propagator read and write message headers in place.
type headerCarrier struct{ hs *[]kafka.Header }

var _ propagation.TextMapCarrier = headerCarrier{}

func (c headerCarrier) Get(k string) string {
	for _, h := range *c.hs {
		if h.Key == k {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(k, v string) {
	for i, h := range *c.hs {
		if h.Key == k {
			(*c.hs)[i].Value = []byte(v)
			return
		}
	}
	*c.hs = append(*c.hs, kafka.Header{Key: k, Value: []byte(v)})
}

func (c headerCarrier) Keys() []string {
	ks := make([]string, 0, len(*c.hs))
	for _, h := range *c.hs {
		ks = append(ks, h.Key)
	}
	return ks
}

func traceHeaders(ctx context.Context, prop propagation.TextMapPropagator) []kafka.Header {
	var hs []kafka.Header
	prop.Inject(ctx, headerCarrier{hs: &hs})
	return hs
}

func traceContext(ctx context.Context, prop propagation.TextMapPropagator, hs []kafka.Header) context.Context {
	return prop.Extract(ctx, headerCarrier{hs: &hs})
}
