package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"github.com/NordCoder/Sitewatch/internal/repository/memory"
	"github.com/NordCoder/Sitewatch/internal/services/evaluator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	m      *Manager
	repo   *memory.AlertRepo
	events *memory.EventLog
	site   *target.Target
}

func newFixture(threshold int) *fixture {
	site := &target.Target{
		ID:   7,
		Name: "Blog",
		URL:  "https://blog.example",
		Kinds: map[target.Kind]target.KindConfig{
			target.KindAvailability: {Enabled: true, Threshold: threshold},
			target.KindCertificate:  {Enabled: true, Threshold: threshold},
		},
	}
	repo := memory.NewAlertRepo()
	events := &memory.EventLog{}
	n := 0
	m := NewManager(repo, events, memory.Transactor{}, nil,
		WithClock(func() time.Time { return base }),
		WithIDs(func() string { n++; return fmt.Sprintf("alert-%d", n) }),
		WithTargets(memory.NewTargetRepo(site)),
	)
	return &fixture{m: m, repo: repo, events: events, site: site}
}

func (f *fixture) result(kind target.Kind, o result.Outcome, minute int, reason string) *result.CheckResult {
	return &result.CheckResult{
		TargetID:  f.site.ID,
		Kind:      kind,
		Outcome:   o,
		Reason:    reason,
		CheckedAt: base.Add(time.Duration(minute) * time.Minute),
		Payload:   map[string]any{},
	}
}

func (f *fixture) process(t *testing.T, r *result.CheckResult) evaluator.Decision {
	t.Helper()
	d, err := f.m.Process(context.Background(), f.site, r)
	require.NoError(t, err)
	return d
}

func (f *fixture) active(t *testing.T) []*alert.Alert {
	t.Helper()
	var out []*alert.Alert
	for _, s := range []alert.Status{alert.StatusOpen, alert.StatusAcknowledged} {
		as, err := f.m.List(context.Background(), alert.Filter{Status: s, TargetID: f.site.ID})
		require.NoError(t, err)
		out = append(out, as...)
	}
	return out
}

func TestProcess_ThresholdAndRepeat(t *testing.T) {
	f := newFixture(2)
	av := target.KindAvailability

	assert.Equal(t, evaluator.SignalNone, f.process(t, f.result(av, result.OutcomeFailure, 0, "HTTP 500")).Signal)
	assert.Empty(t, f.active(t))

	assert.Equal(t, evaluator.SignalThresholdCrossed, f.process(t, f.result(av, result.OutcomeFailure, 1, "HTTP 500")).Signal)
	require.Len(t, f.active(t), 1)

	assert.Equal(t, evaluator.SignalRepeat, f.process(t, f.result(av, result.OutcomeError, 2, "Timeout after 30 seconds")).Signal)
	act := f.active(t)
	require.Len(t, act, 1)
	assert.Equal(t, 2, act[0].Occurrences)
	assert.Equal(t, "Site Blog is down: Timeout after 30 seconds", act[0].Message)
	assert.Equal(t, alert.SeverityCritical, act[0].Severity)

	assert.Len(t, f.events.OfType(alert.EventOpened), 1)
	assert.Len(t, f.events.OfType(alert.EventRepeated), 1)

	st, err := f.repo.GetState(context.Background(), target.Pair{TargetID: 7, Kind: av})
	require.NoError(t, err)
	assert.Equal(t, 3, st.ConsecutiveFailures)
	assert.Equal(t, act[0].ID, st.ActiveAlertID)
}

func TestProcess_RecoveryResolves(t *testing.T) {
	f := newFixture(2)
	av := target.KindAvailability
	for i := 0; i < 3; i++ {
		f.process(t, f.result(av, result.OutcomeFailure, i, "HTTP 502"))
	}
	d := f.process(t, f.result(av, result.OutcomeSuccess, 3, ""))
	assert.Equal(t, evaluator.SignalRecovered, d.Signal)
	assert.Empty(t, f.active(t))

	st, _ := f.repo.GetState(context.Background(), target.Pair{TargetID: 7, Kind: av})
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.Empty(t, st.ActiveAlertID)

	resolved := f.events.OfType(alert.EventResolved)
	require.Len(t, resolved, 1)
	assert.Equal(t, "recovered automatically at 2024-05-01T09:03:00Z", resolved[0].Message)
	assert.Equal(t, "Blog", resolved[0].TargetName)
}

func TestProcess_ResolveThenFailureOpensNewAlert(t *testing.T) {
	for _, threshold := range []int{1, 3} {
		t.Run(fmt.Sprintf("threshold=%d", threshold), func(t *testing.T) {
			f := newFixture(threshold)
			av := target.KindAvailability
			for i := 0; i < threshold; i++ {
				f.process(t, f.result(av, result.OutcomeFailure, i, "HTTP 500"))
			}
			first := f.active(t)
			require.Len(t, first, 1)

			_, err := f.m.Resolve(context.Background(), first[0].ID, "fixed by hand")
			require.NoError(t, err)
			assert.Empty(t, f.active(t))

			d := f.process(t, f.result(av, result.OutcomeFailure, threshold, "HTTP 500"))
			assert.Equal(t, evaluator.SignalThresholdCrossed, d.Signal)
			second := f.active(t)
			require.Len(t, second, 1)
			assert.NotEqual(t, first[0].ID, second[0].ID)
		})
	}
}

func TestProcess_DuplicateIgnored(t *testing.T) {
	f := newFixture(1)
	r := f.result(target.KindAvailability, result.OutcomeFailure, 0, "HTTP 503")
	f.process(t, r)
	again := *r
	d := f.process(t, &again)

	assert.Equal(t, evaluator.SignalDuplicate, d.Signal)
	act := f.active(t)
	require.Len(t, act, 1)
	assert.Equal(t, 1, act[0].Occurrences)
	assert.Len(t, f.events.Events(), 1)

	st, _ := f.repo.GetState(context.Background(), r.Pair())
	assert.Equal(t, 1, st.ConsecutiveFailures)
}

func TestProcess_ManualResultsCount(t *testing.T) {
	f := newFixture(2)
	av := target.KindAvailability
	f.process(t, f.result(av, result.OutcomeFailure, 0, "HTTP 500"))
	manual := f.result(av, result.OutcomeFailure, 1, "HTTP 500")
	manual.Manual = true
	assert.Equal(t, evaluator.SignalThresholdCrossed, f.process(t, manual).Signal)
}

func TestProcess_CertificateSeverity(t *testing.T) {
	f := newFixture(1)
	warn := f.result(target.KindCertificate, result.OutcomeFailure, 0, "Certificate expires in 10 days")
	warn.Payload = map[string]any{"days_until_expiry": 10, "chain_valid": true}
	f.process(t, warn)
	act := f.active(t)
	require.Len(t, act, 1)
	assert.Equal(t, alert.SeverityWarning, act[0].Severity)

	expired := f.result(target.KindCertificate, result.OutcomeFailure, 1, "Certificate expired")
	expired.Payload = map[string]any{"days_until_expiry": -1, "expired": true}
	f.process(t, expired)
	act = f.active(t)
	require.Len(t, act, 1)
	assert.Equal(t, alert.SeverityCritical, act[0].Severity, "escalated in place")
}

func TestProcess_MalformedStateStartsFresh(t *testing.T) {
	f := newFixture(1)
	f.repo.PutState(alert.State{TargetID: 7, Kind: target.KindAvailability, ConsecutiveFailures: -4})
	d := f.process(t, f.result(target.KindAvailability, result.OutcomeFailure, 0, "HTTP 500"))
	assert.Equal(t, evaluator.SignalThresholdCrossed, d.Signal)
	assert.Equal(t, 1, d.State.ConsecutiveFailures)
}

func TestProcess_EmitFailureSurfaces(t *testing.T) {
	f := newFixture(1)
	f.events.Err = errors.New("outbox down")
	_, err := f.m.Process(context.Background(), f.site, f.result(target.KindAvailability, result.OutcomeFailure, 0, "HTTP 500"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbox down")
}

func TestAcknowledgeAndResolveTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(1)
	a, err := f.m.Open(ctx, f.site, target.KindAvailability, alert.SeverityCritical, "down", nil)
	require.NoError(t, err)

	acked, err := f.m.Acknowledge(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.StatusAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedAt)

	_, err = f.m.Acknowledge(ctx, a.ID)
	require.NoError(t, err, "acknowledge is idempotent")
	assert.Len(t, f.events.OfType(alert.EventAcknowledged), 1)
	assert.Equal(t, "Blog", f.events.OfType(alert.EventAcknowledged)[0].TargetName)

	res, err := f.m.Resolve(ctx, a.ID, "done")
	require.NoError(t, err)
	assert.Equal(t, alert.StatusResolved, res.Status)
	assert.Equal(t, "done", res.ResolutionNote)

	_, err = f.m.Resolve(ctx, a.ID, "again")
	require.NoError(t, err, "resolve is idempotent")
	assert.Len(t, f.events.OfType(alert.EventResolved), 1)

	_, err = f.m.Acknowledge(ctx, a.ID)
	assert.ErrorIs(t, err, alert.ErrInvalidTransition)

	_, err = f.m.Acknowledge(ctx, "missing")
	assert.ErrorIs(t, err, alert.ErrNotFound)
	_, err = f.m.Resolve(ctx, "missing", "")
	assert.ErrorIs(t, err, alert.ErrNotFound)
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	f := newFixture(1)
	require.NoError(t, f.m.Recover(ctx, f.site, target.KindAvailability), "no active alert is fine")

	_, err := f.m.Open(ctx, f.site, target.KindAvailability, alert.SeverityCritical, "down", nil)
	require.NoError(t, err)
	require.NoError(t, f.m.Recover(ctx, f.site, target.KindAvailability))
	assert.Empty(t, f.active(t))
	require.Len(t, f.events.OfType(alert.EventResolved), 1)
	assert.Contains(t, f.events.OfType(alert.EventResolved)[0].Message, "recovered automatically")
}

func TestOpen_ConcurrentCallersShareOneAlert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(1)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.Open(ctx, f.site, target.KindAvailability, alert.SeverityCritical, "down", nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	act := f.active(t)
	require.Len(t, act, 1)
	assert.Equal(t, n, act[0].Occurrences)
	assert.Len(t, f.events.OfType(alert.EventOpened), 1)
	assert.Len(t, f.events.OfType(alert.EventRepeated), n-1)
	assert.Zero(t, f.m.locks.size())
}

func TestProcess_ConcurrentDeliveriesForOnePair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(1)

	// Every result arrives twice at once, as when a manual trigger races the
	// scheduled run and a redelivery.
	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		signals = map[evaluator.Signal]int{}
	)
	for i := 1; i <= n; i++ {
		r := f.result(target.KindAvailability, result.OutcomeFailure, i, "HTTP 502")
		for k := 0; k < 2; k++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d, err := f.m.Process(ctx, f.site, r)
				assert.NoError(t, err)
				mu.Lock()
				signals[d.Signal]++
				mu.Unlock()
			}()
		}
	}
	wg.Wait()

	counted := 2*n - signals[evaluator.SignalDuplicate]
	assert.GreaterOrEqual(t, signals[evaluator.SignalDuplicate], n)
	assert.Equal(t, 1, signals[evaluator.SignalThresholdCrossed])
	assert.Equal(t, counted, signals[evaluator.SignalThresholdCrossed]+signals[evaluator.SignalRepeat])

	act := f.active(t)
	require.Len(t, act, 1)
	assert.Equal(t, counted, act[0].Occurrences)
	assert.Len(t, f.events.OfType(alert.EventOpened), 1)

	st, err := f.repo.GetState(ctx, target.Pair{TargetID: f.site.ID, Kind: target.KindAvailability})
	require.NoError(t, err)
	assert.Equal(t, counted, st.ConsecutiveFailures)
	assert.Equal(t, act[0].ID, st.ActiveAlertID)
	assert.Zero(t, f.m.locks.size())
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(1)
	a, err := f.m.Open(ctx, f.site, target.KindCertificate, alert.SeverityWarning, "expiring", map[string]any{"days_until_expiry": 5})
	require.NoError(t, err)

	got, err := f.m.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "expiring", got.Message)

	_, err = f.m.Get(ctx, "nope")
	assert.ErrorIs(t, err, alert.ErrNotFound)
}
