package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"github.com/NordCoder/Sitewatch/internal/services/checker"
	"github.com/NordCoder/Sitewatch/internal/services/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcChecker struct {
	kind target.Kind
	fn   func(ctx context.Context) (*result.CheckResult, error)
}

func (f funcChecker) Kind() target.Kind { return f.kind }
func (f funcChecker) Check(ctx context.Context, _ *target.Target, _ target.KindConfig) (*result.CheckResult, error) {
	return f.fn(ctx)
}

type checkers map[target.Kind]checker.Checker

func (c checkers) For(k target.Kind) (checker.Checker, error) {
	if ch, ok := c[k]; ok {
		return ch, nil
	}
	return nil, checker.ErrNoChecker
}

type recorder struct {
	mu        sync.Mutex
	results   []*result.CheckResult
	completed []target.Pair
	done      chan struct{}
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{}, 16)} }

func (r *recorder) HandleResult(_ context.Context, _ scheduler.WorkItem, res *result.CheckResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) Complete(p target.Pair, _ time.Time) {
	r.mu.Lock()
	r.completed = append(r.completed, p)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []*result.CheckResult {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for completion %d", i+1)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*result.CheckResult(nil), r.results...)
}

func item(k target.Kind, timeout time.Duration) scheduler.WorkItem {
	return scheduler.WorkItem{
		Target: &target.Target{ID: 5, URL: "https://example.com"},
		Kind:   k,
		Config: target.KindConfig{Enabled: true, Timeout: timeout}.Normalize(k),
	}
}

var fixed = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestPool_ResultsAndCompletion(t *testing.T) {
	cs := checkers{
		target.KindAvailability: funcChecker{target.KindAvailability, func(context.Context) (*result.CheckResult, error) {
			return &result.CheckResult{Outcome: result.OutcomeSuccess, Payload: map[string]any{"status_code": 200}}, nil
		}},
		target.KindPerformance: funcChecker{target.KindPerformance, func(context.Context) (*result.CheckResult, error) {
			return nil, errors.New("Connection error: refused")
		}},
		target.KindContent: funcChecker{target.KindContent, func(context.Context) (*result.CheckResult, error) {
			panic("boom")
		}},
	}
	rec := newRecorder()
	p := NewPool(cs, rec, rec, WithWorkers(2), WithClock(func() time.Time { return fixed }))
	p.Start(context.Background())
	defer p.Stop()

	manual := item(target.KindAvailability, time.Second)
	manual.Manual = true
	require.True(t, p.Submit(manual))
	require.True(t, p.Submit(item(target.KindPerformance, time.Second)))
	require.True(t, p.Submit(item(target.KindContent, time.Second)))

	byKind := map[target.Kind]*result.CheckResult{}
	for _, r := range rec.wait(t, 3) {
		byKind[r.Kind] = r
	}

	ok := byKind[target.KindAvailability]
	require.NotNil(t, ok)
	assert.Equal(t, result.OutcomeSuccess, ok.Outcome)
	assert.Equal(t, int64(5), ok.TargetID)
	assert.Equal(t, fixed, ok.CheckedAt)
	assert.True(t, ok.Manual)

	assert.Equal(t, result.OutcomeError, byKind[target.KindPerformance].Outcome)
	assert.Equal(t, "Connection error: refused", byKind[target.KindPerformance].Reason)

	assert.Equal(t, result.OutcomeError, byKind[target.KindContent].Outcome)
	assert.Equal(t, "checker panic: boom", byKind[target.KindContent].Reason)

	assert.Len(t, rec.completed, 3)
}

func TestPool_StampsMicrosecondUTC(t *testing.T) {
	cs := checkers{
		target.KindAvailability: funcChecker{target.KindAvailability, func(context.Context) (*result.CheckResult, error) {
			return &result.CheckResult{Outcome: result.OutcomeSuccess}, nil
		}},
	}
	local := time.Date(2024, 1, 1, 3, 0, 0, 123456789, time.FixedZone("X", 3*3600))
	rec := newRecorder()
	p := NewPool(cs, rec, rec, WithClock(func() time.Time { return local }))
	p.Start(context.Background())
	defer p.Stop()

	require.True(t, p.Submit(item(target.KindAvailability, time.Second)))
	got := rec.wait(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 123456000, time.UTC), got[0].CheckedAt)
	assert.Equal(t, time.UTC, got[0].CheckedAt.Location())
}

func TestPool_DeadlineExceeded(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	cs := checkers{
		target.KindLinkIntegrity: funcChecker{target.KindLinkIntegrity, func(context.Context) (*result.CheckResult, error) {
			<-release // ignores its context
			return &result.CheckResult{Outcome: result.OutcomeSuccess}, nil
		}},
	}
	rec := newRecorder()
	p := NewPool(cs, rec, rec, WithWorkers(1), WithGrace(50*time.Millisecond))
	p.Start(context.Background())

	start := time.Now()
	require.True(t, p.Submit(item(target.KindLinkIntegrity, 50*time.Millisecond)))
	res := rec.wait(t, 1)
	require.Len(t, res, 1)
	assert.Equal(t, result.OutcomeError, res[0].Outcome)
	assert.Equal(t, ReasonDeadline, res[0].Reason)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	p.Stop()
}

func TestPool_UnknownKindIsErrorResult(t *testing.T) {
	rec := newRecorder()
	p := NewPool(checkers{}, rec, rec, WithWorkers(1))
	p.Start(context.Background())
	defer p.Stop()

	require.True(t, p.Submit(item(target.KindCertificate, time.Second)))
	res := rec.wait(t, 1)
	assert.Equal(t, result.OutcomeError, res[0].Outcome)
}

func TestPool_SubmitIsNonBlocking(t *testing.T) {
	rec := newRecorder()
	p := NewPool(checkers{}, rec, rec, WithQueueSize(1))

	assert.True(t, p.Submit(item(target.KindAvailability, time.Second)))
	assert.False(t, p.Submit(item(target.KindAvailability, time.Second)), "full queue rejects")

	p.Start(context.Background())
	rec.wait(t, 1)
	p.Stop()
	assert.False(t, p.Submit(item(target.KindAvailability, time.Second)), "stopped pool rejects")
}

func TestWithWorkers_Clamped(t *testing.T) {
	assert.Equal(t, 1, NewPool(nil, nil, nil, WithWorkers(0)).workers)
	assert.Equal(t, MaxWorkers, NewPool(nil, nil, nil, WithWorkers(10_000)).workers)
}
