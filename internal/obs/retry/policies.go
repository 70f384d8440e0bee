package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

func logged(p Policy, log *zap.Logger, what string) Policy {
	p.OnAttempt = func(i int, err error) {
		if log != nil {
			log.Warn(what+" retry", zap.String("policy", p.Name), zap.Int("attempt", i+1), zap.Error(err))
		}
	}
	p.OnExhaust = func(err error) {
		if log != nil && !errors.Is(err, context.Canceled) {
			log.Error(what+" retries exhausted", zap.String("policy", p.Name), zap.Error(err))
		}
	}
	return p
}

func DefaultKafkaPolicy(log *zap.Logger) Policy {
	return logged(Policy{
		Name:     "outbox_kafka",
		Attempts: 6,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
	}, log, "outbox")
}

// PersistencePolicy guards result appends and alert-state writes.
func PersistencePolicy(log *zap.Logger) Policy {
	return logged(Policy{
		Name:     "persistence",
		Attempts: 5,
		Backoff:  ExpoJitter{Base: 100 * time.Millisecond, Max: 2 * time.Second, Jitter: 0.2},
	}, log, "persistence")
}

// DeliveryPolicy guards a single notification channel send.
func DeliveryPolicy(log *zap.Logger) Policy {
	return logged(Policy{
		Name:     "delivery",
		Attempts: 4,
		Backoff:  ExpoJitter{Base: 500 * time.Millisecond, Max: 10 * time.Second, Jitter: 0.2},
	}, log, "delivery")
}
