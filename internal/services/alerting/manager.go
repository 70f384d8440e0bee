// Package alerting owns the alert lifecycle: opening, refreshing, acknowledging and resolving
// alerts, and the per-pair failure state they are derived from.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"github.com/NordCoder/Sitewatch/internal/obs"
	"github.com/NordCoder/Sitewatch/internal/services/evaluator"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Targets resolves target names for events raised outside the check pipeline.
type Targets interface {
	GetByID(ctx context.Context, id int64) (*target.Target, error)
}

var (
	mEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alerting_events_total", Help: "Alert lifecycle events emitted.",
	}, []string{"kind", "event"})
	mSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alerting_signals_total", Help: "Evaluator decisions by signal.",
	}, []string{"kind", "signal"})
)

type Manager struct {
	repo    alert.Repo
	events  alert.Events
	tx      Transactor
	targets Targets
	log     *zap.Logger
	now     func() time.Time
	newID   func() string
	locks   *pairLocks
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }
func WithIDs(gen func() string) Option      { return func(m *Manager) { m.newID = gen } }
func WithTargets(t Targets) Option          { return func(m *Manager) { m.targets = t } }

func NewManager(repo alert.Repo, events alert.Events, tx Transactor, log *zap.Logger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		repo:   repo,
		events: events,
		tx:     tx,
		log:    log.With(zap.String("component", "alerting")),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		locks:  newPairLocks(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) span(ctx context.Context, op string, p target.Pair) (context.Context, trace.Span) {
	return otel.Tracer("alerting").Start(ctx, "alerting."+op, trace.WithAttributes(
		attribute.Int64("target.id", p.TargetID),
		attribute.String("check.kind", string(p.Kind)),
	))
}

// Open raises an alert for the pair, or refreshes the active one.
func (m *Manager) Open(ctx context.Context, t *target.Target, kind target.Kind, sev alert.Severity,
	message string, details map[string]any) (*alert.Alert, error) {
	p := target.Pair{TargetID: t.ID, Kind: kind}
	ctx, span := m.span(ctx, "open", p)
	defer span.End()

	unlock := m.locks.lock(p)
	defer unlock()

	var out *alert.Alert
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		st, err := m.state(ctx, p)
		if err != nil {
			return err
		}
		out, err = m.raise(ctx, t, st, sev, message, details, m.now())
		if err != nil {
			return err
		}
		st.UpdatedAt = m.now()
		return m.repo.UpsertState(ctx, st)
	})
	if err != nil {
		obs.Fail(span, err)
		return nil, err
	}
	return out, nil
}

// Acknowledge moves an open alert to acknowledged; acknowledging twice succeeds without an event.
func (m *Manager) Acknowledge(ctx context.Context, id string) (*alert.Alert, error) {
	cur, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx, span := m.span(ctx, "acknowledge", cur.Pair())
	defer span.End()

	unlock := m.locks.lock(cur.Pair())
	defer unlock()

	var out *alert.Alert
	err = m.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := m.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		now := m.now()
		changed, err := a.Acknowledge(now)
		if err != nil {
			return fmt.Errorf("acknowledge %s: %w", id, err)
		}
		out = a
		if !changed {
			return nil
		}
		if err := m.repo.Update(ctx, a); err != nil {
			return err
		}
		return m.emit(ctx, m.lookup(ctx, a.TargetID), a, alert.EventAcknowledged, now)
	})
	if err != nil {
		obs.Fail(span, err)
		return nil, err
	}
	return out, nil
}

// Resolve closes an active alert; resolving a resolved alert succeeds without an event.
// The pair's failure counter is kept so a still-failing pair raises a new alert.
func (m *Manager) Resolve(ctx context.Context, id, note string) (*alert.Alert, error) {
	cur, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx, span := m.span(ctx, "resolve", cur.Pair())
	defer span.End()

	unlock := m.locks.lock(cur.Pair())
	defer unlock()

	var out *alert.Alert
	err = m.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := m.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		out = a
		if a.Status == alert.StatusResolved {
			return nil
		}
		st, err := m.state(ctx, a.Pair())
		if err != nil {
			return err
		}
		if err := m.close(ctx, m.lookup(ctx, a.TargetID), st, a, note, m.now()); err != nil {
			return err
		}
		return m.repo.UpsertState(ctx, st)
	})
	if err != nil {
		obs.Fail(span, err)
		return nil, err
	}
	return out, nil
}

// Recover resolves the pair's active alert, if any, and resets its failure counter.
func (m *Manager) Recover(ctx context.Context, t *target.Target, kind target.Kind) error {
	p := target.Pair{TargetID: t.ID, Kind: kind}
	ctx, span := m.span(ctx, "recover", p)
	defer span.End()

	unlock := m.locks.lock(p)
	defer unlock()

	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		st, err := m.state(ctx, p)
		if err != nil {
			return err
		}
		now := m.now()
		if err := m.resolveActive(ctx, t, st, recoveredNote(now), now); err != nil {
			return err
		}
		st.ConsecutiveFailures = 0
		st.Severity = ""
		st.UpdatedAt = now
		return m.repo.UpsertState(ctx, st)
	})
	if err != nil {
		obs.Fail(span, err)
	}
	return err
}

// Process evaluates one result against the pair's state and applies the decision atomically.
func (m *Manager) Process(ctx context.Context, t *target.Target, res *result.CheckResult) (evaluator.Decision, error) {
	p := res.Pair()
	ctx, span := m.span(ctx, "process", p)
	defer span.End()

	unlock := m.locks.lock(p)
	defer unlock()

	cfg, ok := t.Config(p.Kind)
	if !ok {
		cfg = target.KindConfig{}.Normalize(p.Kind)
	}

	var d evaluator.Decision
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		st, err := m.state(ctx, p)
		if err != nil {
			return err
		}
		d = evaluator.Evaluate(res, st, cfg.Threshold)
		switch d.Signal {
		case evaluator.SignalDuplicate:
			return nil
		case evaluator.SignalThresholdCrossed, evaluator.SignalRepeat:
			if _, err := m.raise(ctx, t, d.State, evaluator.Severity(res), evaluator.Message(t, res),
				evaluator.Details(res), res.CheckedAt); err != nil {
				return err
			}
		case evaluator.SignalRecovered:
			if err := m.resolveActive(ctx, t, d.State, d.Note, res.CheckedAt); err != nil {
				return err
			}
		}
		return m.repo.UpsertState(ctx, d.State)
	})
	if err != nil {
		obs.Fail(span, err)
		return evaluator.Decision{}, err
	}
	mSignals.WithLabelValues(string(p.Kind), string(d.Signal)).Inc()
	span.SetAttributes(attribute.String("alert.signal", string(d.Signal)))
	return d, nil
}

func (m *Manager) List(ctx context.Context, f alert.Filter) ([]*alert.Alert, error) {
	return m.repo.List(ctx, f)
}

func (m *Manager) Get(ctx context.Context, id string) (*alert.Alert, error) {
	return m.repo.GetByID(ctx, id)
}

// state loads the pair state; missing or malformed state starts fresh.
func (m *Manager) state(ctx context.Context, p target.Pair) (*alert.State, error) {
	st, err := m.repo.GetState(ctx, p)
	switch {
	case errors.Is(err, alert.ErrNotFound):
		return alert.Fresh(p), nil
	case err != nil:
		return nil, fmt.Errorf("load state %s: %w", p.Key(), err)
	case !st.Valid(p):
		obs.WithTrace(ctx, m.log).Warn("malformed alert state replaced",
			zap.String("pair", p.Key()), zap.Int("failures", st.ConsecutiveFailures))
		return alert.Fresh(p), nil
	}
	return st, nil
}

// raise opens a new alert or refreshes the active one and points st at it.
func (m *Manager) raise(ctx context.Context, t *target.Target, st *alert.State, sev alert.Severity,
	message string, details map[string]any, at time.Time) (*alert.Alert, error) {
	if st.ActiveAlertID != "" {
		a, err := m.repo.GetByID(ctx, st.ActiveAlertID)
		switch {
		case errors.Is(err, alert.ErrNotFound):
		case err != nil:
			return nil, err
		case a.Status.Active():
			a.Occurrences++
			a.LastSeenAt = at
			a.Message = message
			a.Details = details
			if sev.Higher(a.Severity) {
				a.Severity = sev
			}
			if err := m.repo.Update(ctx, a); err != nil {
				return nil, err
			}
			return a, m.emit(ctx, t, a, alert.EventRepeated, at)
		}
	}

	a := &alert.Alert{
		ID:          m.newID(),
		TargetID:    st.TargetID,
		Kind:        st.Kind,
		Severity:    sev,
		Status:      alert.StatusOpen,
		Message:     message,
		Details:     details,
		Occurrences: 1,
		CreatedAt:   at,
		LastSeenAt:  at,
	}
	if err := m.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	st.ActiveAlertID = a.ID
	st.Severity = sev
	return a, m.emit(ctx, t, a, alert.EventOpened, at)
}

func (m *Manager) resolveActive(ctx context.Context, t *target.Target, st *alert.State, note string, at time.Time) error {
	if st.ActiveAlertID == "" {
		return nil
	}
	a, err := m.repo.GetByID(ctx, st.ActiveAlertID)
	if errors.Is(err, alert.ErrNotFound) {
		st.ActiveAlertID = ""
		return nil
	}
	if err != nil {
		return err
	}
	return m.close(ctx, t, st, a, note, at)
}

func (m *Manager) close(ctx context.Context, t *target.Target, st *alert.State, a *alert.Alert, note string, at time.Time) error {
	if st.ActiveAlertID == a.ID {
		st.ActiveAlertID = ""
		st.UpdatedAt = at
	}
	if !a.Resolve(at, note) {
		return nil
	}
	if err := m.repo.Update(ctx, a); err != nil {
		return err
	}
	return m.emit(ctx, t, a, alert.EventResolved, at)
}

func (m *Manager) emit(ctx context.Context, t *target.Target, a *alert.Alert, typ alert.EventType, at time.Time) error {
	if err := m.events.Emit(ctx, alert.NewEvent(t, a, typ, at)); err != nil {
		return fmt.Errorf("emit %s event: %w", typ, err)
	}
	mEvents.WithLabelValues(string(a.Kind), string(typ)).Inc()
	obs.WithTrace(ctx, m.log).Info("alert event",
		zap.String("alert_id", a.ID), zap.String("event", string(typ)),
		zap.Int64("target_id", a.TargetID), zap.String("kind", string(a.Kind)),
		zap.String("severity", string(a.Severity)))
	return nil
}

func (m *Manager) lookup(ctx context.Context, id int64) *target.Target {
	if m.targets == nil {
		return nil
	}
	t, err := m.targets.GetByID(ctx, id)
	if err != nil {
		obs.WithTrace(ctx, m.log).Warn("target lookup failed", zap.Int64("target_id", id), zap.Error(err))
		return nil
	}
	return t
}

func recoveredNote(at time.Time) string {
	return "recovered automatically at " + at.UTC().Format(time.RFC3339)
}
