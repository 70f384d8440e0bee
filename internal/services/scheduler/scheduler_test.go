package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"github.com/NordCoder/Sitewatch/internal/repository/memory"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func site(id int64, kinds ...target.Kind) *target.Target {
	t := &target.Target{ID: id, URL: "https://example.com", Kinds: map[target.Kind]target.KindConfig{}}
	for _, k := range kinds {
		t.Kinds[k] = target.KindConfig{Enabled: true, Interval: time.Minute}
	}
	return t
}

func pairs(items []WorkItem) []target.Pair {
	out := make([]target.Pair, 0, len(items))
	for _, it := range items {
		out = append(out, it.Pair())
	}
	return out
}

func TestTick_DueComputation(t *testing.T) {
	uc := NewUC()
	uc.SetTargets([]*target.Target{site(1, target.KindAvailability, target.KindCertificate)})
	ctx := context.Background()

	first := uc.Tick(ctx, t0)
	require.Len(t, first, 2, "never-run pairs are due")
	assert.False(t, first[0].Manual)
	assert.Equal(t, t0, first[0].Scheduled)

	assert.Empty(t, uc.Tick(ctx, t0.Add(time.Hour)), "dispatched pairs are not due again")

	p := target.Pair{TargetID: 1, Kind: target.KindAvailability}
	uc.Complete(p, t0)
	assert.Empty(t, uc.Tick(ctx, t0.Add(59*time.Second)))
	assert.Equal(t, []target.Pair{p}, pairs(uc.Tick(ctx, t0.Add(time.Minute))))
}

func TestTick_IntervalIsClamped(t *testing.T) {
	uc := NewUC()
	tg := site(1, target.KindAvailability)
	tg.Kinds[target.KindAvailability] = target.KindConfig{Enabled: true, Interval: time.Second}
	uc.SetTargets([]*target.Target{tg})
	ctx := context.Background()

	require.Len(t, uc.Tick(ctx, t0), 1)
	uc.Complete(target.Pair{TargetID: 1, Kind: target.KindAvailability}, t0)
	assert.Empty(t, uc.Tick(ctx, t0.Add(30*time.Second)))
	assert.Len(t, uc.Tick(ctx, t0.Add(target.MinInterval)), 1)
}

func TestTrigger(t *testing.T) {
	uc := NewUC()
	uc.SetTargets([]*target.Target{site(1, target.KindAvailability, target.KindContent)})
	ctx := context.Background()

	_, err := uc.Trigger(ctx, 99, "", t0)
	assert.ErrorIs(t, err, ErrTargetNotFound)

	_, err = uc.Trigger(ctx, 1, target.KindCertificate, t0)
	assert.ErrorIs(t, err, ErrKindDisabled)

	items, err := uc.Trigger(ctx, 1, target.KindAvailability, t0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Manual)

	_, err = uc.Trigger(ctx, 1, target.KindAvailability, t0)
	assert.ErrorIs(t, err, ErrAlreadyDispatched, "a dispatched pair rejects manual triggers")

	items, err = uc.Trigger(ctx, 1, "", t0)
	require.NoError(t, err)
	assert.Equal(t, []target.Pair{{TargetID: 1, Kind: target.KindContent}}, pairs(items), "only idle kinds are dispatched")

	_, err = uc.Trigger(ctx, 1, "", t0)
	assert.ErrorIs(t, err, ErrAlreadyDispatched)
}

func TestSetTargets_InFlightSurvivesRemoval(t *testing.T) {
	uc := NewUC()
	uc.SetTargets([]*target.Target{site(1, target.KindAvailability)})
	ctx := context.Background()
	require.Len(t, uc.Tick(ctx, t0), 1)

	p := target.Pair{TargetID: 1, Kind: target.KindAvailability}
	uc.SetTargets(nil)
	assert.True(t, uc.Dispatched(p))
	assert.Empty(t, uc.Tick(ctx, t0.Add(time.Hour)))

	uc.Complete(p, t0)
	assert.False(t, uc.Dispatched(p))

	paused := site(1, target.KindAvailability)
	paused.Paused = true
	uc.SetTargets([]*target.Target{paused})
	assert.Empty(t, uc.Tick(ctx, t0.Add(time.Hour)))
}

type fakePool struct {
	mu     sync.Mutex
	accept bool
	got    []WorkItem
}

func (f *fakePool) Submit(it WorkItem) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.accept {
		return false
	}
	f.got = append(f.got, it)
	return true
}

func TestRunner_RejectedItemsReturnToIdle(t *testing.T) {
	uc := NewUC()
	uc.SetTargets([]*target.Target{site(1, target.KindAvailability)})
	pool := &fakePool{}
	r := New(zap.NewNop(), uc, pool, time.Second)
	r.Now = func() time.Time { return t0 }

	r.tick(context.Background())
	p := target.Pair{TargetID: 1, Kind: target.KindAvailability}
	assert.False(t, uc.Dispatched(p))

	pool.accept = true
	r.tick(context.Background())
	assert.True(t, uc.Dispatched(p))
	assert.Len(t, pool.got, 1)
}

func TestRunner_Trigger(t *testing.T) {
	uc := NewUC()
	uc.SetTargets([]*target.Target{site(1, target.KindAvailability, target.KindPerformance)})
	pool := &fakePool{accept: true}
	r := New(zap.NewNop(), uc, pool, time.Second)

	kinds, err := r.Trigger(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, []target.Kind{target.KindAvailability, target.KindPerformance}, kinds)

	_, err = r.Trigger(context.Background(), 1, target.KindAvailability)
	assert.ErrorIs(t, err, ErrAlreadyDispatched)

	uc.Complete(target.Pair{TargetID: 1, Kind: target.KindAvailability}, t0)
	pool.accept = false
	_, err = r.Trigger(context.Background(), 1, target.KindAvailability)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.False(t, uc.Dispatched(target.Pair{TargetID: 1, Kind: target.KindAvailability}))
}

type failingRepo struct{ target.Repo }

func (failingRepo) ListMonitored(context.Context) ([]*target.Target, error) {
	return nil, errors.New("db down")
}

func TestResync(t *testing.T) {
	repo := memory.NewTargetRepo(site(1, target.KindAvailability), site(2, target.KindContent))
	uc := NewUC()
	rs := NewResync(repo, uc, zap.NewNop())

	require.NoError(t, rs.Sync(context.Background()))
	_, ok := uc.Target(2)
	assert.True(t, ok)

	repo.Remove(2)
	require.NoError(t, rs.Sync(context.Background()))
	_, ok = uc.Target(2)
	assert.False(t, ok)

	bad := NewResync(failingRepo{}, uc, zap.NewNop())
	assert.Error(t, bad.Sync(context.Background()))
	_, ok = uc.Target(1)
	assert.True(t, ok, "failed sync keeps the previous set")

	c := cron.New()
	id, err := rs.Register(context.Background(), c, "")
	require.NoError(t, err)
	assert.NotZero(t, id)
}
