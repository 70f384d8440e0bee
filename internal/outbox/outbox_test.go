package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/NordCoder/Sitewatch/internal/domain/outbox"
	"github.com/NordCoder/Sitewatch/internal/obs/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRepo struct {
	mu      sync.Mutex
	rows    map[string]outbox.Message
	order   []string
	success []string
}

func newFakeRepo() *fakeRepo { return &fakeRepo{rows: map[string]outbox.Message{}} }

func (f *fakeRepo) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[key]; ok {
		return nil
	}
	f.rows[key] = outbox.Message{IdempotencyKey: key, Kind: kind, Data: data, Status: outbox.StatusCreated}
	f.order = append(f.order, key)
	return nil
}

func (f *fakeRepo) PickBatch(_ context.Context, batch int, _ time.Duration) ([]outbox.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []outbox.Message
	for _, k := range f.order {
		m := f.rows[k]
		if m.Status == outbox.StatusSuccess {
			continue
		}
		out = append(out, m)
		if len(out) == batch {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) MarkSuccess(_ context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		m := f.rows[k]
		m.Status = outbox.StatusSuccess
		f.rows[k] = m
		f.success = append(f.success, k)
	}
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	got  []alert.Event
	fail int
}

func (p *fakePublisher) PublishAlertEvent(_ context.Context, ev alert.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail > 0 {
		p.fail--
		return errors.New("broker down")
	}
	p.got = append(p.got, ev)
	return nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{Name: "test", Attempts: 3, Backoff: retry.ExpoJitter{Base: time.Millisecond, Max: time.Millisecond}}
}

func TestAlertEvents_EnqueueDedupesByKey(t *testing.T) {
	repo := newFakeRepo()
	ev := alert.Event{AlertID: "a1", EventType: alert.EventOpened, TargetID: 3, OccurredAt: time.Unix(10, 0)}

	events := NewAlertEvents(repo)
	require.NoError(t, events.Emit(context.Background(), ev))
	require.NoError(t, events.Emit(context.Background(), ev))

	require.Len(t, repo.rows, 1)
	m := repo.rows[ev.Key()]
	assert.Equal(t, outbox.KindAlertEvent, m.Kind)

	var back alert.Event
	require.NoError(t, json.Unmarshal(m.Data, &back))
	assert.Equal(t, "a1", back.AlertID)
}

func TestRunner_TickRelaysAndMarks(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{fail: 1}
	events := NewAlertEvents(repo)
	for i := 0; i < 3; i++ {
		require.NoError(t, events.Emit(context.Background(), alert.Event{
			AlertID: "a", EventType: alert.EventRepeated, OccurredAt: time.Unix(int64(i), 0),
		}))
	}

	r := NewOutboxRunner(zap.NewNop(), repo, MakeGlobalOutboxHandler(pub, fastPolicy()), Config{BatchSize: 10})
	assert.Equal(t, 3, r.tick(context.Background()))
	assert.Len(t, pub.got, 3)
	assert.Len(t, repo.success, 3)
	assert.Equal(t, 0, r.tick(context.Background()))
}

func TestRunner_FailedMessageStaysPending(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{fail: 100}
	require.NoError(t, NewAlertEvents(repo).Emit(context.Background(), alert.Event{AlertID: "a", EventType: alert.EventOpened}))

	r := NewOutboxRunner(zap.NewNop(), repo, MakeGlobalOutboxHandler(pub, fastPolicy()), Config{})
	assert.Equal(t, 0, r.tick(context.Background()))
	assert.Empty(t, repo.success)
}

func TestGlobalHandler(t *testing.T) {
	h := MakeGlobalOutboxHandler(&fakePublisher{}, fastPolicy())

	_, err := h(outbox.Kind(99))
	assert.Error(t, err)

	kh, err := h(outbox.KindAlertEvent)
	require.NoError(t, err)
	err = kh(context.Background(), []byte("not json"))
	assert.True(t, retry.IsPermanent(err))
}
