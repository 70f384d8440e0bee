package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrTargetNotFound    = errors.New("target not found")
	ErrKindDisabled      = errors.New("check kind is not enabled for target")
	ErrAlreadyDispatched = errors.New("check already dispatched")
	ErrQueueFull         = errors.New("executor queue is full")
)

// WorkItem is one dispatched (target, kind) execution.
type WorkItem struct {
	Target    *target.Target
	Kind      target.Kind
	Config    target.KindConfig
	Manual    bool
	Scheduled time.Time
}

func (w WorkItem) Pair() target.Pair { return target.Pair{TargetID: w.Target.ID, Kind: w.Kind} }

// pairState: idle when !dispatched; due is derived from lastRun and the interval.
type pairState struct {
	dispatched bool
	ran        bool
	lastRun    time.Time
}

// Usecase owns the per-pair state machine idle -> dispatched -> idle. It performs no I/O.
type Usecase struct {
	mu      sync.Mutex
	targets map[int64]*target.Target
	pairs   map[target.Pair]*pairState
}

func NewUC() *Usecase {
	return &Usecase{
		targets: make(map[int64]*target.Target),
		pairs:   make(map[target.Pair]*pairState),
	}
}

// SetTargets replaces the monitored set. Paused targets are dropped. Idle state of pairs that
// left consideration is forgotten; dispatched pairs keep their state until Complete.
func (u *Usecase) SetTargets(ts []*target.Target) {
	u.mu.Lock()
	defer u.mu.Unlock()

	next := make(map[int64]*target.Target, len(ts))
	for _, t := range ts {
		if t != nil && !t.Paused {
			next[t.ID] = t
		}
	}
	u.targets = next

	for p, st := range u.pairs {
		if st.dispatched {
			continue
		}
		if !u.monitoredLocked(p) {
			delete(u.pairs, p)
		}
	}
}

func (u *Usecase) monitoredLocked(p target.Pair) bool {
	t, ok := u.targets[p.TargetID]
	if !ok {
		return false
	}
	_, enabled := t.Config(p.Kind)
	return enabled
}

func (u *Usecase) state(p target.Pair) *pairState {
	st, ok := u.pairs[p]
	if !ok {
		st = &pairState{}
		u.pairs[p] = st
	}
	return st
}

// Tick dispatches every idle pair whose interval has elapsed at now; never-run pairs are due.
func (u *Usecase) Tick(ctx context.Context, now time.Time) []WorkItem {
	_, span := otel.Tracer("scheduler.uc").Start(ctx, "scheduler.tick")
	defer span.End()

	u.mu.Lock()
	defer u.mu.Unlock()

	ids := make([]int64, 0, len(u.targets))
	for id := range u.targets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var due []WorkItem
	for _, id := range ids {
		t := u.targets[id]
		for _, k := range t.Enabled() {
			cfg, _ := t.Config(k)
			p := target.Pair{TargetID: t.ID, Kind: k}
			st := u.state(p)
			if st.dispatched {
				continue
			}
			if st.ran && now.Before(st.lastRun.Add(cfg.Interval)) {
				continue
			}
			st.dispatched = true
			due = append(due, WorkItem{Target: t, Kind: k, Config: cfg, Scheduled: now})
		}
	}
	span.SetAttributes(
		attribute.Int("targets", len(ids)),
		attribute.Int("dispatched", len(due)),
	)
	return due
}

// Trigger dispatches a manual run. With an empty kind every enabled idle kind of the target is
// dispatched, and the call fails only if none could be.
func (u *Usecase) Trigger(ctx context.Context, targetID int64, kind target.Kind, now time.Time) ([]WorkItem, error) {
	_, span := otel.Tracer("scheduler.uc").Start(ctx, "scheduler.trigger", trace.WithAttributes(
		attribute.Int64("target.id", targetID),
		attribute.String("check.kind", string(kind)),
	))
	defer span.End()

	u.mu.Lock()
	defer u.mu.Unlock()

	t, ok := u.targets[targetID]
	if !ok {
		return nil, ErrTargetNotFound
	}

	kinds := t.Enabled()
	if kind != "" {
		if _, enabled := t.Config(kind); !enabled {
			return nil, ErrKindDisabled
		}
		kinds = []target.Kind{kind}
	}
	if len(kinds) == 0 {
		return nil, ErrKindDisabled
	}

	var items []WorkItem
	for _, k := range kinds {
		st := u.state(target.Pair{TargetID: t.ID, Kind: k})
		if st.dispatched {
			continue
		}
		st.dispatched = true
		cfg, _ := t.Config(k)
		items = append(items, WorkItem{Target: t, Kind: k, Config: cfg, Manual: true, Scheduled: now})
	}
	if len(items) == 0 {
		return nil, ErrAlreadyDispatched
	}
	return items, nil
}

// Complete returns the pair to idle and records at as its last run.
func (u *Usecase) Complete(p target.Pair, at time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.monitoredLocked(p) {
		delete(u.pairs, p)
		return
	}
	st := u.state(p)
	st.dispatched = false
	st.ran = true
	st.lastRun = at
}

// Release returns the pair to idle without recording a run, so it is due again next tick.
func (u *Usecase) Release(p target.Pair) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if st, ok := u.pairs[p]; ok {
		st.dispatched = false
	}
}

func (u *Usecase) Dispatched(p target.Pair) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	st, ok := u.pairs[p]
	return ok && st.dispatched
}

func (u *Usecase) Target(id int64) (*target.Target, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	t, ok := u.targets[id]
	return t, ok
}
