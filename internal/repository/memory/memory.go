// Package memory holds mutex-guarded in-process implementations of the repository ports.
// They back unit tests and the single-process dev mode.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/NordCoder/Sitewatch/internal/domain/notification"
	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
)

var ErrTargetNotFound = errors.New("target not found")

// Transactor runs fn directly; the in-memory repos are individually atomic.
type Transactor struct{}

func (Transactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type TargetRepo struct {
	mu      sync.RWMutex
	targets map[int64]*target.Target
}

var _ target.Repo = (*TargetRepo)(nil)

func NewTargetRepo(ts ...*target.Target) *TargetRepo {
	r := &TargetRepo{targets: make(map[int64]*target.Target)}
	for _, t := range ts {
		r.Put(t)
	}
	return r
}

func (r *TargetRepo) Put(t *target.Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[t.ID] = t
}

func (r *TargetRepo) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, id)
}

func (r *TargetRepo) ListMonitored(context.Context) ([]*target.Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*target.Target, 0, len(r.targets))
	for _, t := range r.targets {
		if !t.Paused {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *TargetRepo) GetByID(_ context.Context, id int64) (*target.Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[id]
	if !ok {
		return nil, ErrTargetNotFound
	}
	return t, nil
}

type ResultRepo struct {
	mu      sync.Mutex
	nextID  int64
	results []*result.CheckResult
	seen    map[string]struct{}
}

var _ result.Repo = (*ResultRepo)(nil)

func NewResultRepo() *ResultRepo {
	return &ResultRepo{seen: make(map[string]struct{})}
}

func (r *ResultRepo) Append(_ context.Context, res *result.CheckResult) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[res.Key()]; dup {
		return false, nil
	}
	r.nextID++
	res.ID = r.nextID
	cp := *res
	r.results = append(r.results, &cp)
	r.seen[res.Key()] = struct{}{}
	return true, nil
}

func (r *ResultRepo) Recent(_ context.Context, p target.Pair, n int) ([]*result.CheckResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*result.CheckResult
	for i := len(r.results) - 1; i >= 0 && (n <= 0 || len(out) < n); i-- {
		if r.results[i].Pair() == p {
			cp := *r.results[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *ResultRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

type AlertRepo struct {
	mu     sync.Mutex
	states map[target.Pair]alert.State
	alerts map[string]alert.Alert
	order  []string
}

var _ alert.Repo = (*AlertRepo)(nil)

func NewAlertRepo() *AlertRepo {
	return &AlertRepo{
		states: make(map[target.Pair]alert.State),
		alerts: make(map[string]alert.Alert),
	}
}

func (r *AlertRepo) GetState(_ context.Context, p target.Pair) (*alert.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[p]
	if !ok {
		return alert.Fresh(p), nil
	}
	return &s, nil
}

func (r *AlertRepo) UpsertState(_ context.Context, s *alert.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[target.Pair{TargetID: s.TargetID, Kind: s.Kind}] = *s
	return nil
}

// PutState stores s verbatim, including values the manager would consider malformed.
func (r *AlertRepo) PutState(s alert.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[target.Pair{TargetID: s.TargetID, Kind: s.Kind}] = s
}

func (r *AlertRepo) Create(_ context.Context, a *alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[a.ID]; ok {
		return errors.New("duplicate alert id")
	}
	if a.Status.Active() {
		for _, x := range r.alerts {
			if x.Pair() == a.Pair() && x.Status.Active() {
				return errors.New("active alert already exists for pair")
			}
		}
	}
	r.alerts[a.ID] = *a
	r.order = append(r.order, a.ID)
	return nil
}

func (r *AlertRepo) Update(_ context.Context, a *alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[a.ID]; !ok {
		return alert.ErrNotFound
	}
	r.alerts[a.ID] = *a
	return nil
}

func (r *AlertRepo) GetByID(_ context.Context, id string) (*alert.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, alert.ErrNotFound
	}
	return &a, nil
}

// List returns matching alerts newest first.
func (r *AlertRepo) List(_ context.Context, f alert.Filter) ([]*alert.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*alert.Alert
	for i := len(r.order) - 1; i >= 0; i-- {
		a := r.alerts[r.order[i]]
		if f.Status != "" && a.Status != f.Status ||
			f.Severity != "" && a.Severity != f.Severity ||
			f.Kind != "" && a.Kind != f.Kind ||
			f.TargetID != 0 && a.TargetID != f.TargetID {
			continue
		}
		out = append(out, &a)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

type NotificationRepo struct {
	mu         sync.Mutex
	nextID     int64
	deliveries []notification.Delivery
}

var _ notification.Repo = (*NotificationRepo)(nil)

func NewNotificationRepo() *NotificationRepo { return &NotificationRepo{} }

func (r *NotificationRepo) Create(_ context.Context, d *notification.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	d.ID = r.nextID
	if d.SentAt.IsZero() {
		d.SentAt = time.Now()
	}
	r.deliveries = append(r.deliveries, *d)
	return nil
}

func (r *NotificationRepo) ListByAlert(_ context.Context, alertID string, limit int) ([]*notification.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*notification.Delivery
	for i := len(r.deliveries) - 1; i >= 0; i-- {
		if r.deliveries[i].AlertID != alertID {
			continue
		}
		d := r.deliveries[i]
		out = append(out, &d)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// EventLog records emitted alert events in order.
type EventLog struct {
	mu     sync.Mutex
	events []alert.Event
	Err    error
}

var _ alert.Events = (*EventLog)(nil)

func (l *EventLog) Emit(_ context.Context, ev alert.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	l.events = append(l.events, ev)
	return nil
}

func (l *EventLog) Events() []alert.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]alert.Event(nil), l.events...)
}

func (l *EventLog) OfType(t alert.EventType) []alert.Event {
	var out []alert.Event
	for _, e := range l.Events() {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}
